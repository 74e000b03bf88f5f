package telephony

import (
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lexiqai/callagent/internal/config"
)

// voiceTokenClaims mirrors the shape of the carrier's opaque client
// access token (§6): the identity presenting the token plus standard
// registered claims.
type voiceTokenClaims struct {
	Identity string `json:"identity"`
	jwt.RegisteredClaims
}

// VoiceTokenHandler issues a short-lived signed token an inbound
// softphone client presents to open the media stream (`/voice-token`).
func VoiceTokenHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := r.URL.Query().Get("identity")
		if identity == "" {
			identity = "anonymous"
		}

		now := time.Now()
		claims := voiceTokenClaims{
			Identity: identity,
			RegisteredClaims: jwt.RegisteredClaims{
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(cfg.VoiceTokenTTL)),
			},
		}

		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		signed, err := token.SignedString([]byte(cfg.VoiceTokenSigningKey))
		if err != nil {
			http.Error(w, "failed to sign voice token", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"token":"` + signed + `"}`))
	}
}

// ParseVoiceToken validates a signed voice token and returns its identity.
func ParseVoiceToken(cfg *config.Config, tokenString string) (string, error) {
	claims := &voiceTokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(cfg.VoiceTokenSigningKey), nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", jwt.ErrTokenSignatureInvalid
	}
	return claims.Identity, nil
}
