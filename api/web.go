// Package api provides the read-only HTTP surface of a running node: peers,
// chain status, balances, mempool and a websocket feed of node events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dimfeld/httptreemux/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ctxKey int

const valuesKey ctxKey = 1

// Values represent state for each request.
type Values struct {
	TraceID    string
	Now        time.Time
	StatusCode int
}

// GetValues returns the values from the context.
func GetValues(ctx context.Context) (*Values, error) {
	v, ok := ctx.Value(valuesKey).(*Values)
	if !ok {
		return nil, errors.New("web value missing from context")
	}
	return v, nil
}

// Handler is a type that handles a http request within the api.
type Handler func(ctx context.Context, w http.ResponseWriter, r *http.Request) error

// Middleware runs some code before and/or after another Handler.
type Middleware func(Handler) Handler

func wrapMiddleware(mw []Middleware, handler Handler) Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		if mw[i] != nil {
			handler = mw[i](handler)
		}
	}
	return handler
}

// App is the entrypoint into the api. It configures the context for every
// request and applies the middleware before the route handler.
type App struct {
	mux *httptreemux.ContextMux
	mw  []Middleware
}

// NewApp creates an App value that handles a set of routes.
func NewApp(mw ...Middleware) *App {
	return &App{
		mux: httptreemux.NewContextMux(),
		mw:  mw,
	}
}

// ServeHTTP implements the http.Handler interface.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

// Handle sets a handler function for a given HTTP method and path pair.
func (a *App) Handle(method string, version string, path string, handler Handler, mw ...Middleware) {
	handler = wrapMiddleware(mw, handler)
	handler = wrapMiddleware(a.mw, handler)

	h := func(w http.ResponseWriter, r *http.Request) {
		v := Values{
			TraceID: uuid.NewString(),
			Now:     time.Now().UTC(),
		}
		ctx := context.WithValue(r.Context(), valuesKey, &v)

		handler(ctx, w, r.WithContext(ctx))
	}

	finalPath := path
	if version != "" {
		finalPath = "/" + version + path
	}

	a.mux.Handle(method, finalPath, h)
}

// Param returns the named route parameter of the request.
func Param(r *http.Request, key string) string {
	return httptreemux.ContextParams(r.Context())[key]
}

// Respond converts a Go value to JSON and sends it to the client.
func Respond(ctx context.Context, w http.ResponseWriter, data any, statusCode int) error {
	if v, err := GetValues(ctx); err == nil {
		v.StatusCode = statusCode
	}

	if statusCode == http.StatusNoContent {
		w.WriteHeader(statusCode)
		return nil
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if _, err := w.Write(jsonData); err != nil {
		return err
	}

	return nil
}

// =============================================================================

// Logger writes some information about the request to the logs in the
// format: TraceID : (200) GET /foo -> IP ADDR (latency)
func Logger(log *zap.SugaredLogger) Middleware {
	return func(handler Handler) Handler {
		return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			v, err := GetValues(ctx)
			if err != nil {
				return err
			}

			log.Infow("request started", "traceid", v.TraceID, "method", r.Method, "path", r.URL.Path, "remoteaddr", r.RemoteAddr)

			err = handler(ctx, w, r)

			log.Infow("request completed", "traceid", v.TraceID, "method", r.Method, "path", r.URL.Path, "remoteaddr", r.RemoteAddr,
				"statuscode", v.StatusCode, "since", time.Since(v.Now))

			return err
		}
	}
}

// Errors handles errors coming out of the call chain. Trusted errors are
// returned to the client with their status, anything else becomes a 500.
func Errors(log *zap.SugaredLogger) Middleware {
	return func(handler Handler) Handler {
		return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			v, err := GetValues(ctx)
			if err != nil {
				return err
			}

			if err := handler(ctx, w, r); err != nil {
				log.Errorw("ERROR", "traceid", v.TraceID, "ERROR", err)

				var er Response
				var status int
				switch {
				case IsTrusted(err):
					trsErr := GetTrusted(err)
					er = Response{Error: trsErr.Error()}
					status = trsErr.Status

				default:
					er = Response{Error: http.StatusText(http.StatusInternalServerError)}
					status = http.StatusInternalServerError
				}

				if err := Respond(ctx, w, er, status); err != nil {
					return err
				}
			}

			return nil
		}
	}
}

// Cors sets the response headers needed for Cross-Origin Resource Sharing.
func Cors(origin string) Middleware {
	return func(handler Handler) Handler {
		return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Origin, Accept, Content-Type, Content-Length, Accept-Encoding")

			return handler(ctx, w, r)
		}
	}
}
