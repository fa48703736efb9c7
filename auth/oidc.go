package auth

import (
	"context"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jkettu/huddle/config"
	"github.com/jkettu/huddle/globals"
)

// Authenticate verifies a given OIDC ID-Token against the named configured
// provider and returns the verified user id (the "email" claim). An empty
// token or an unknown provider yields an empty id without error, so
// deployments without OIDC keep working with client-announced identities.
func Authenticate(idToken, oidcProvider string, cfg *config.Config) (string, error) {
	if idToken == "" || len(cfg.OIDCConfigs) == 0 {
		return "", nil
	}
	var oidcConf *config.OIDCConfig
	for i := range cfg.OIDCConfigs {
		if cfg.OIDCConfigs[i].Name == oidcProvider {
			oidcConf = &cfg.OIDCConfigs[i]
			break
		}
	}
	if oidcConf == nil {
		globals.AppLogger.Debug("no oidc config found for provider", "provider", oidcProvider)
		return "", nil
	}
	provider, err := oidc.NewProvider(context.Background(), oidcConf.ProviderUrl)
	if err != nil {
		return "", err
	}
	conf := oidc.Config{}
	if oidcConf.ClientId == "" {
		conf.SkipClientIDCheck = true
	} else {
		conf.ClientID = oidcConf.ClientId
	}
	verifiedIdToken, err := provider.Verifier(&conf).Verify(context.Background(), idToken)
	if err != nil {
		return "", err
	}
	claims := struct {
		Email string `json:"email"`
	}{}
	if err := verifiedIdToken.Claims(&claims); err != nil {
		return "", err
	}
	return claims.Email, nil
}
