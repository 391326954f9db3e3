package httpserver

import (
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/net/webdav"

	"landrop/internal/auth"
	"landrop/internal/config"
	"landrop/internal/davfs"
	"landrop/internal/fsutil"
	"landrop/internal/hierarchy"
	"landrop/internal/logging"
	"landrop/internal/metrics"
	"landrop/internal/upload"
)

type Options struct {
	Config config.Config
	Store  *hierarchy.Store
	Guard  *auth.Guard
	Logger *logging.Logger
}

type Server struct {
	cfg     config.Config
	store   *hierarchy.Store
	guard   *auth.Guard
	log     *logging.Logger
	zlog    *zap.Logger
	uploads *upload.Receiver
	thumbs  *thumbCache
	public  http.FileSystem
}

//go:embed web/index.html
var embeddedWeb embed.FS

func New(opts Options) (*Server, error) {
	if opts.Store == nil || opts.Guard == nil || opts.Logger == nil {
		return nil, errors.New("httpserver: store, guard and logger are required")
	}
	zlog := opts.Logger.Named("http")
	thumbs, err := newThumbCache(opts.Config.ThumbDir())
	if err != nil {
		return nil, err
	}
	public, err := publicFS(opts.Config.PublicDir, zlog)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:   opts.Config,
		store: opts.Store,
		guard: opts.Guard,
		log:   opts.Logger,
		zlog:  zlog,
		uploads: upload.NewReceiver(opts.Store, upload.Limits{
			MaxFileSize: opts.Config.MaxFileSize,
			MaxFiles:    opts.Config.MaxFiles,
		}, zlog),
		thumbs: thumbs,
		public: public,
	}, nil
}

// publicFS serves dir when it exists and the built-in page otherwise.
func publicFS(dir string, logger *zap.Logger) (http.FileSystem, error) {
	if dir != "" {
		osFs := afero.NewOsFs()
		if ok, _ := afero.DirExists(osFs, dir); ok {
			return afero.NewHttpFs(afero.NewReadOnlyFs(afero.NewBasePathFs(osFs, dir))), nil
		}
		logger.Info("public dir not found, serving built-in page", zap.String("dir", dir))
	}
	sub, err := fs.Sub(embeddedWeb, "web")
	if err != nil {
		return nil, err
	}
	return http.FS(sub), nil
}

// Handler wires the API router and, when enabled, WebDAV under /dav/.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.cfg.WebDAV {
		mux.Handle("/dav/", s.guard.BasicAuth("landrop", s.davHandler()))
	}
	mux.Handle("/", s.router())

	var h http.Handler = mux
	h = withHeaders(h)
	h = middleware.Recoverer(h)
	h = s.log.Middleware(h)
	h = allowIPs(s.cfg.AllowedIPs, s.zlog)(h)
	return h
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(metrics.Middleware, cors)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/check-password", wrap(s, s.handleCheckPassword))
		r.Post("/verify-password", wrap(s, s.handleVerifyPassword))
		r.Get("/logging-status", wrap(s, s.handleLoggingStatus))

		r.Group(func(r chi.Router) {
			r.Use(s.guard.Middleware)

			r.Post("/set-password", wrap(s, s.handleSetPassword))
			r.Post("/skip-password", wrap(s, s.handleSkipPassword))
			r.Post("/toggle-logging", wrap(s, s.handleToggleLogging))

			r.Get("/files", wrap(s, s.handleList))
			r.Put("/files/{name}", wrap(s, s.handleRename))
			r.Put("/files/{name}/move", wrap(s, s.handleMove))
			r.Delete("/files/{name}", wrap(s, s.handleDelete))
			r.Get("/download/{name}", wrap(s, s.handleDownload))
			r.Get("/thumb/{name}", wrap(s, s.handleThumb))

			r.Post("/folders", wrap(s, s.handleCreateFolder))
			r.Get("/folders/{folder}", wrap(s, s.handleList))
			r.Get("/folders/{folder}/zip", wrap(s, s.handleZip))
			r.Get("/folders/{folder}/files/{name}", wrap(s, s.handleDownload))
			r.Put("/folders/{folder}/files/{name}", wrap(s, s.handleRename))
			r.Put("/folders/{folder}/files/{name}/move", wrap(s, s.handleMove))
			r.Delete("/folders/{folder}/files/{name}", wrap(s, s.handleDelete))
			r.Get("/folders/{folder}/thumb/{name}", wrap(s, s.handleThumb))

			r.Post("/upload", wrap(s, s.handleUpload))
			r.Get("/search", wrap(s, s.handleSearch))
		})
	})

	r.Handle("/*", http.FileServer(s.public))
	return r
}

func (s *Server) davHandler() http.Handler {
	return &webdav.Handler{
		Prefix:     "/dav",
		FileSystem: davfs.New(fsutil.NewShallowFs(s.store.Fs(), s.zlog), s.zlog),
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				logging.FromContext(r.Context(), s.zlog).Debug("webdav",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Error(err))
			}
		},
	}
}

func withHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Cache-Control", "no-store")
		}
		next.ServeHTTP(w, r)
	})
}

// cors lets pages served from another origin on the LAN call the API, and
// answers preflight requests before the password check.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Expose-Headers", "Content-Disposition, "+logging.HeaderRequestID)
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, "+auth.HeaderPassword)
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allowIPs rejects clients whose address is not listed. Entries are single
// addresses or CIDR prefixes; an empty list allows everyone.
func allowIPs(entries []string, logger *zap.Logger) func(http.Handler) http.Handler {
	if len(entries) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if p, err := netip.ParsePrefix(e); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(e); err == nil {
			prefixes = append(prefixes, netip.PrefixFrom(a.Unmap(), a.Unmap().BitLen()))
			continue
		}
		logger.Warn("ignoring invalid allowedIPs entry", zap.String("entry", e))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			addr, err := netip.ParseAddr(host)
			if err == nil {
				addr = addr.Unmap()
				for _, p := range prefixes {
					if p.Contains(addr) {
						next.ServeHTTP(w, r)
						return
					}
				}
			}
			logger.Info("client not in allowedIPs", zap.String("remote_addr", r.RemoteAddr))
			w.WriteHeader(http.StatusForbidden)
		})
	}
}

// ListenAddrs returns URLs a LAN client can use to reach addr.
func ListenAddrs(addr string) []string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil
	}
	if host != "" && host != "0.0.0.0" && host != "::" {
		return []string{fmt.Sprintf("http://%s", net.JoinHostPort(host, port))}
	}
	urls := []string{fmt.Sprintf("http://%s", net.JoinHostPort("127.0.0.1", port))}
	ifaces, err := net.Interfaces()
	if err != nil {
		return urls
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok || ipnet.IP.To4() == nil {
				continue
			}
			urls = append(urls, fmt.Sprintf("http://%s", net.JoinHostPort(ipnet.IP.String(), port)))
		}
	}
	return urls
}
