package httpserver

import (
	"net/http"

	"tanpatsu/internal/middleware"

	"log/slog"

	"github.com/go-chi/chi/v5"
)

type RouterDeps struct {
	Logger *slog.Logger

	// API монтируется под /api.
	API http.Handler

	// Page отдаёт одностраничный интерфейс чата.
	Page http.Handler

	// TelegramHandler необязателен: nil, если бот не настроен.
	TelegramHandler http.Handler
}

// NewRouter собирает chi-роутер с общими middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recover(deps.Logger))
	r.Use(middleware.Logging(deps.Logger))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})

	if deps.API != nil {
		r.Mount("/api", deps.API)
	}
	if deps.TelegramHandler != nil {
		r.Post("/telegram/webhook", deps.TelegramHandler.ServeHTTP)
	}
	if deps.Page != nil {
		r.Handle("/*", deps.Page)
	}

	return r
}
