package loginflow

import (
	"context"
	_ "embed"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync"
	"time"
)

//go:embed templates/callback_success.html
var callbackSuccessHTML string

//go:embed templates/callback_error.html
var callbackErrorHTML string

// CallbackResult represents the authorization response delivered to the
// loopback redirect URI.
type CallbackResult struct {
	// Code is the authorization code from the identity server.
	Code string

	// State is the state parameter to verify against the original request.
	State string

	// Error is the error code if the authorization was denied.
	Error string

	// ErrorDescription is a human-readable error description.
	ErrorDescription string
}

// IsError returns true if the callback result represents a provider-side denial.
func (r *CallbackResult) IsError() bool {
	return r.Error != ""
}

// CallbackServer is a temporary HTTP server bound to the loopback interface
// that receives the browser redirect carrying the authorization code. It
// accepts exactly one meaningful request per authentication attempt, answers
// it with a confirmation page, then shuts down.
type CallbackServer struct {
	port     int
	server   *http.Server
	listener net.Listener
	resultCh chan *CallbackResult
	errorCh  chan error
	once     sync.Once
	baseURL  string
}

// NewCallbackServer creates a callback server for the specified port.
// Port 0 lets the OS assign an ephemeral port at Start.
func NewCallbackServer(port int) *CallbackServer {
	return &CallbackServer{
		port:     port,
		resultCh: make(chan *CallbackResult, 1),
		errorCh:  make(chan error, 1),
	}
}

// Start binds the loopback listener and begins accepting the redirect.
// It must complete before the authorization URL is handed to a browser,
// otherwise the redirect can race the port becoming available.
// The server stops when the context is cancelled.
//
// Returns the redirect URI to embed in the authorization request.
func (s *CallbackServer) Start(ctx context.Context) (string, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", s.port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to bind redirect listener on %s: %w", addr, err)
	}

	s.listener = listener
	s.port = listener.Addr().(*net.TCPAddr).Port
	s.baseURL = fmt.Sprintf("http://localhost:%d", s.port)

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRedirect)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			select {
			case s.errorCh <- err:
			default:
			}
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return s.RedirectURI(), nil
}

// WaitForCallback waits for the authorization redirect or context cancellation.
func (s *CallbackServer) WaitForCallback(ctx context.Context) (*CallbackResult, error) {
	select {
	case result := <-s.resultCh:
		return result, nil
	case err := <-s.errorCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// handleRedirect handles requests hitting the loopback listener. Requests
// that are not the authorization response (favicon probes, wrong paths,
// missing parameters) get a benign 404 and do not consume the attempt.
func (s *CallbackServer) handleRedirect(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	query := r.URL.Query()
	if query.Get("code") == "" && query.Get("error") == "" {
		http.NotFound(w, r)
		return
	}

	var handled bool
	s.once.Do(func() {
		handled = true
		s.processRedirect(w, r)
	})

	if !handled {
		http.Error(w, "Authorization response already processed", http.StatusBadRequest)
	}
}

// processRedirect parses the authorization response and answers the browser.
// Called exactly once via sync.Once.
func (s *CallbackServer) processRedirect(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")

	query := r.URL.Query()
	result := &CallbackResult{
		Code:             query.Get("code"),
		State:            query.Get("state"),
		Error:            query.Get("error"),
		ErrorDescription: query.Get("error_description"),
	}

	// The browser gets a confirmation page regardless of outcome.
	var tmpl *template.Template
	var data interface{}

	if result.IsError() {
		tmpl = template.Must(template.New("error").Parse(callbackErrorHTML))
		data = map[string]string{
			"Error":       result.Error,
			"Description": result.ErrorDescription,
		}
	} else {
		tmpl = template.Must(template.New("success").Parse(callbackSuccessHTML))
		data = map[string]string{}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}

	select {
	case s.resultCh <- result:
	default:
	}

	// Shut down after the response has had time to reach the browser.
	go func() {
		time.Sleep(1 * time.Second)
		s.Stop()
	}()
}

// Stop gracefully shuts down the callback server and closes the listener.
// Safe to call multiple times.
func (s *CallbackServer) Stop() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

// RedirectURI returns the redirect URI embedded into the authorization request.
func (s *CallbackServer) RedirectURI() string {
	return s.baseURL + "/"
}

// Port returns the port the listener is bound to.
func (s *CallbackServer) Port() int {
	return s.port
}
