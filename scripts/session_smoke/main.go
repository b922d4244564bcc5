package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

type step struct {
	Name     string
	Method   string
	Path     string
	Body     interface{}
	Cookies  func(s *session) []*http.Cookie
	CSRF     bool
	Save     bool
	Expected int
}

type result struct {
	Step     step
	Status   int
	Duration time.Duration
	Error    error
}

// session tracks cookies by name. A cookie jar would drop Secure cookies
// against a plain-http dev server.
type session struct {
	cookies map[string]*http.Cookie
	saved   map[string]*http.Cookie
}

func (s *session) all() []*http.Cookie {
	out := make([]*http.Cookie, 0, len(s.cookies))
	for _, c := range s.cookies {
		out = append(out, c)
	}
	return out
}

func (s *session) absorb(resp *http.Response) {
	for _, c := range resp.Cookies() {
		if c.MaxAge < 0 || c.Value == "" {
			delete(s.cookies, c.Name)
			continue
		}
		s.cookies[c.Name] = c
	}
}

func main() {
	var (
		base     string
		prefix   string
		email    string
		password string
		header   string
		timeout  time.Duration
	)

	flag.StringVar(&base, "base", "http://localhost:8080", "API base URL")
	flag.StringVar(&prefix, "prefix", "/api/v1", "API prefix")
	flag.StringVar(&email, "email", "demo@fintrack.local", "Login email")
	flag.StringVar(&password, "password", "", "Login password")
	flag.StringVar(&header, "csrf-header", "X-CSRF-TOKEN", "CSRF header name")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "HTTP client timeout")
	flag.Parse()

	if password == "" {
		log.Fatal("-password is required")
	}

	client := &http.Client{Timeout: timeout}
	sess := &session{cookies: map[string]*http.Cookie{}, saved: map[string]*http.Cookie{}}
	current := func(s *session) []*http.Cookie { return s.all() }
	stale := func(s *session) []*http.Cookie {
		if c, ok := s.saved["refresh_token"]; ok {
			return []*http.Cookie{c}
		}
		return nil
	}

	steps := []step{
		{Name: "login", Method: http.MethodPost, Path: "/auth/login", Body: map[string]string{"email": email, "password": password}, Expected: http.StatusOK},
		{Name: "me", Method: http.MethodGet, Path: "/auth/me", Cookies: current, Expected: http.StatusOK},
		{Name: "sessions", Method: http.MethodGet, Path: "/auth/sessions", Cookies: current, Expected: http.StatusOK},
		{Name: "refresh", Method: http.MethodPost, Path: "/auth/refresh", Cookies: current, Save: true, Expected: http.StatusOK},
		{Name: "replay rotated refresh token", Method: http.MethodPost, Path: "/auth/refresh", Cookies: stale, Expected: http.StatusUnauthorized},
		{Name: "logout-all without csrf", Method: http.MethodPost, Path: "/auth/logout-all", Cookies: current, Expected: http.StatusForbidden},
		{Name: "logout-all", Method: http.MethodPost, Path: "/auth/logout-all", Cookies: current, CSRF: true, Save: true, Expected: http.StatusOK},
		{Name: "refresh after logout-all", Method: http.MethodPost, Path: "/auth/refresh", Cookies: stale, Expected: http.StatusUnauthorized},
		{Name: "logout", Method: http.MethodPost, Path: "/auth/logout", Cookies: current, Expected: http.StatusNoContent},
	}

	var results []result
	failed := 0
	for _, st := range steps {
		if st.Save {
			if c, ok := sess.cookies["refresh_token"]; ok {
				sess.saved["refresh_token"] = c
			}
		}
		res := run(client, base+prefix, header, sess, st)
		if res.Error != nil || res.Status != st.Expected {
			failed++
		}
		results = append(results, res)
	}

	printReport(results)
	fmt.Printf("Failed steps: %d/%d\n", failed, len(results))
	if failed > 0 {
		os.Exit(1)
	}
}

func run(client *http.Client, base, csrfHeader string, sess *session, st step) result {
	res := result{Step: st}

	var body io.Reader
	if st.Body != nil {
		payload, err := json.Marshal(st.Body)
		if err != nil {
			res.Error = err
			return res
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(st.Method, base+st.Path, body)
	if err != nil {
		res.Error = err
		return res
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Client-Device", "desktop")
	if st.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if st.Cookies != nil {
		for _, c := range st.Cookies(sess) {
			req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
		}
	}
	if st.CSRF {
		if c, ok := sess.cookies["csrf_token"]; ok {
			req.Header.Set(csrfHeader, c.Value)
		}
	}

	start := time.Now()
	resp, err := client.Do(req)
	res.Duration = time.Since(start)
	if err != nil {
		res.Error = err
		return res
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	res.Status = resp.StatusCode
	if resp.StatusCode < 300 {
		sess.absorb(resp)
	}
	return res
}

func printReport(results []result) {
	fmt.Println("Session Smoke Report")
	fmt.Println(strings.Repeat("=", 72))
	for _, r := range results {
		status := "OK"
		if r.Error != nil {
			status = fmt.Sprintf("ERROR (%v)", r.Error)
		} else if r.Status != r.Step.Expected {
			status = fmt.Sprintf("FAIL (got %d, want %d)", r.Status, r.Step.Expected)
		}
		fmt.Printf("%-6s %-32s %-6d %-10s %s\n", r.Step.Method, r.Step.Name, r.Status, r.Duration.Truncate(time.Millisecond), status)
	}
	fmt.Println(strings.Repeat("=", 72))
}
