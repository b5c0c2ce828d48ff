package middleware

import (
	"net/http"
	"strings"
)

// CORSPolicy describes which browser origins may call the scheduling API.
type CORSPolicy struct {
	// AllowedOrigins is matched exactly; "*" echoes any origin.
	AllowedOrigins []string
	// DevSessionHeaders also allows X-Debug-User and X-Debug-Role, which
	// DevSession reads in development.
	DevSessionHeaders bool
}

// Routes only use GET, PUT and POST; status changes are POSTs.
var corsMethods = []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodOptions}

var corsHeaders = []string{"Authorization", "Content-Type", "X-Request-ID"}

// CORS answers preflights for allowed origins and rejects the rest with 403.
func CORS(policy CORSPolicy) func(http.Handler) http.Handler {
	origins := newOriginSet(policy.AllowedOrigins)

	headers := append([]string(nil), corsHeaders...)
	if policy.DevSessionHeaders {
		headers = append(headers, "X-Debug-User", "X-Debug-Role")
	}
	allowedHeaders := strings.Join(headers, ", ")
	allowedMethods := strings.Join(corsMethods, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			requested := r.Header.Get("Access-Control-Request-Method")
			preflight := r.Method == http.MethodOptions && origin != "" && requested != ""
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Add("Vary", "Origin")
			if !origins.allows(origin) {
				if preflight {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			if !preflight {
				next.ServeHTTP(w, r)
				return
			}
			if !methodAllowed(requested) {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			w.Header().Set("Access-Control-Allow-Methods", allowedMethods)
			w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

type originSet struct {
	any   bool
	exact map[string]struct{}
}

func newOriginSet(origins []string) originSet {
	set := originSet{exact: make(map[string]struct{}, len(origins))}
	for _, origin := range origins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		switch origin {
		case "":
		case "*":
			set.any = true
		default:
			set.exact[origin] = struct{}{}
		}
	}
	return set
}

func (s originSet) allows(origin string) bool {
	if s.any {
		return true
	}
	_, ok := s.exact[origin]
	return ok
}

func methodAllowed(method string) bool {
	method = strings.ToUpper(strings.TrimSpace(method))
	for _, m := range corsMethods {
		if m == method {
			return true
		}
	}
	return false
}
