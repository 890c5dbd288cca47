package http

import (
	"crypto/subtle"
	"io"
	"net/http"

	json "github.com/goccy/go-json"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// SecretTokenHeader заголовок с секретом, заданным при setWebhook.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

const maxUpdateBytes = 1 << 20

// SecretToken пропускает только запросы с верным секретом. Пустой секрет отключает проверку.
func SecretToken(secret string, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret != "" {
				got := r.Header.Get(SecretTokenHeader)
				if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
					log.Warn().Bool("security", true).Str("ip", r.RemoteAddr).Msg("вебхук с неверным секретом")
					http.Error(w, "forbidden", http.StatusForbidden)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WebhookHandler декодирует апдейт и передаёт его в dispatch. Ответ 200
// отправляется сразу, обработка идёт асинхронно.
func WebhookHandler(dispatch func(tgbotapi.Update), log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxUpdateBytes))
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		var upd tgbotapi.Update
		if err := json.Unmarshal(body, &upd); err != nil {
			log.Warn().Err(err).Msg("не удалось разобрать апдейт")
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		dispatch(upd)
		w.WriteHeader(http.StatusOK)
	}
}
