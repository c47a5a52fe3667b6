// Package apitest runs an in-memory CSP backend for tests.
package apitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/pders01/cspfeed/internal/api"
)

// BasePath is where the fake mounts the API, matching the real deployment.
const BasePath = "/csp_core_api_v3"

type account struct {
	passwordHash string
	realName     string
}

// Profile is what /login/app returns for an account.
type Profile struct {
	UserID       string
	CompanyID    string
	DepartmentID string
	Email        string
}

// Server answers the dictionary, news list and login endpoints. Every
// data endpoint requires a token issued by /login once RequireToken is on.
type Server struct {
	srv *httptest.Server

	mu           sync.Mutex
	tabs         []api.DataItem
	news         []api.NewsRecord
	accounts     map[string]account
	profiles     map[string]Profile
	companies    map[string]string
	departments  map[string]string
	messages     []api.Message
	tokens       map[string]string
	requireToken bool
	failNews     int
	issued       int
	hits         map[string]int
}

// NewServer starts a server that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	s := &Server{
		accounts:    make(map[string]account),
		profiles:    make(map[string]Profile),
		companies:   make(map[string]string),
		departments: make(map[string]string),
		tokens:      make(map[string]string),
		hits:        make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+BasePath+"/data/dataitem/details/{code}", s.handleDictionary)
	mux.HandleFunc("POST "+BasePath+"/data/dbsource/newsList/list", s.handleNewsList)
	mux.HandleFunc("POST "+BasePath+"/login", s.handleLogin)
	mux.HandleFunc("GET "+BasePath+"/login/app", s.handleUserInfo)
	mux.HandleFunc("POST "+BasePath+"/login/cache", s.handleClearCache)
	mux.HandleFunc("GET "+BasePath+"/organization/{kind}/{id}", s.handleOrgUnit)
	mux.HandleFunc("GET "+BasePath+"/message/msg/list/last", s.handleLastMessages)
	mux.HandleFunc("POST "+BasePath+"/message/msg/send", s.handleSendMessage)

	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

// BaseURL is the value for api.base_url.
func (s *Server) BaseURL() string { return s.srv.URL + BasePath }

// SetTabs replaces the NewsType dictionary.
func (s *Server) SetTabs(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tabs = s.tabs[:0]
	for i, name := range names {
		s.tabs = append(s.tabs, api.DataItem{
			ID:       api.FlexString(fmt.Sprintf("tab-%d", i+1)),
			ItemName: name,
			ItemCode: fmt.Sprint(i + 1),
		})
	}
}

// SetNews replaces the news list.
func (s *Server) SetNews(records ...api.NewsRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.news = append([]api.NewsRecord(nil), records...)
}

// AddAccount registers a login. passwordHash is what the client sends,
// see auth.HashPassword.
func (s *Server) AddAccount(name, passwordHash, realName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[name] = account{passwordHash: passwordHash, realName: realName}
}

// SetProfile sets the record /login/app returns for account.
func (s *Server) SetProfile(account string, p Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[account] = p
}

// AddCompany and AddDepartment register organization names by id.
func (s *Server) AddCompany(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.companies[id] = name
}

func (s *Server) AddDepartment(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.departments[id] = name
}

// Messages returns every message sent through the server, oldest first.
func (s *Server) Messages() []api.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.Message(nil), s.messages...)
}

func (s *Server) RequireToken(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requireToken = on
}

// RevokeTokens invalidates every issued token.
func (s *Server) RevokeTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = make(map[string]string)
}

// FailNews makes the next n news list requests answer HTTP 500.
func (s *Server) FailNews(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNews = n
}

// Hits returns how often the endpoint named by its last path segment
// ("NewsType", "list", "login", "app", "cache", "company", "department",
// "last", "send") was called.
func (s *Server) Hits(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[endpoint]
}

func (s *Server) authorized(r *http.Request) bool {
	if !s.requireToken {
		return true
	}
	_, ok := s.tokens[r.Header.Get("token")]
	return ok
}

// caller returns the account owning the request token.
func (s *Server) caller(r *http.Request) (string, bool) {
	acct, ok := s.tokens[r.Header.Get("token")]
	return acct, ok
}

func (s *Server) handleDictionary(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")

	s.mu.Lock()
	s.hits[code]++
	ok := s.authorized(r)
	tabs := append([]api.DataItem(nil), s.tabs...)
	s.mu.Unlock()

	switch {
	case !ok:
		writeEnvelope(w, http.StatusUnauthorized, "token invalid", nil)
	case code != api.NewsTypeCode:
		writeEnvelope(w, http.StatusOK, "ok", []api.DataItem{})
	default:
		writeEnvelope(w, http.StatusOK, "ok", tabs)
	}
}

func (s *Server) handleNewsList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits["list"]++
	ok := s.authorized(r)
	fail := s.failNews > 0
	if fail {
		s.failNews--
	}
	news := append([]api.NewsRecord(nil), s.news...)
	s.mu.Unlock()

	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch {
	case fail:
		http.Error(w, "news list unavailable", http.StatusInternalServerError)
	case !ok:
		writeEnvelope(w, http.StatusUnauthorized, "token invalid", nil)
	default:
		writeEnvelope(w, http.StatusOK, "ok", news)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits["login"]++

	acct, ok := s.accounts[req.Account]
	if !ok || acct.passwordHash != req.Password || req.Password2 == "" {
		writeEnvelope(w, http.StatusInternalServerError, "wrong account or password", nil)
		return
	}

	s.issued++
	token := fmt.Sprintf("token-%d", s.issued)
	s.tokens[token] = req.Account
	writeEnvelope(w, http.StatusOK, "ok", api.LoginResult{
		Token: token,
		User: map[string]interface{}{
			"f_Account":  req.Account,
			"f_RealName": acct.realName,
		},
	})
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits["app"]++

	name, ok := s.caller(r)
	if !ok {
		writeEnvelope(w, http.StatusUnauthorized, "token invalid", nil)
		return
	}
	p := s.profiles[name]
	writeEnvelope(w, http.StatusOK, "ok", map[string]interface{}{
		"f_UserId":       p.UserID,
		"f_Account":      name,
		"f_RealName":     s.accounts[name].realName,
		"f_CompanyId":    p.CompanyID,
		"f_DepartmentId": p.DepartmentID,
		"f_Email":        p.Email,
	})
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits["cache"]++
	if !s.authorized(r) {
		writeEnvelope(w, http.StatusUnauthorized, "token invalid", nil)
		return
	}
	writeEnvelope(w, http.StatusOK, "ok", nil)
}

func (s *Server) handleOrgUnit(w http.ResponseWriter, r *http.Request) {
	kind, id := r.PathValue("kind"), r.PathValue("id")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits[kind]++

	var names map[string]string
	switch kind {
	case "company":
		names = s.companies
	case "department":
		names = s.departments
	default:
		http.NotFound(w, r)
		return
	}
	switch name, found := names[id]; {
	case !s.authorized(r):
		writeEnvelope(w, http.StatusUnauthorized, "token invalid", nil)
	case !found:
		writeEnvelope(w, http.StatusNotFound, kind+" not found", nil)
	default:
		writeEnvelope(w, http.StatusOK, "ok", api.OrgUnit{FullName: name})
	}
}

func (s *Server) handleLastMessages(w http.ResponseWriter, r *http.Request) {
	peer := r.URL.Query().Get("toId")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits["last"]++

	if !s.authorized(r) {
		writeEnvelope(w, http.StatusUnauthorized, "token invalid", nil)
		return
	}
	// newest first, like the real backend
	out := []api.Message{}
	for i := len(s.messages) - 1; i >= 0; i-- {
		m := s.messages[i]
		if string(m.RecvUserID) == peer || string(m.SendUserID) == peer {
			out = append(out, m)
		}
	}
	writeEnvelope(w, http.StatusOK, "ok", out)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RecvUserID string `json:"f_RecvUserId"`
		Content    string `json:"f_Content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits["send"]++

	name, ok := s.caller(r)
	switch {
	case s.requireToken && !ok:
		writeEnvelope(w, http.StatusUnauthorized, "token invalid", nil)
		return
	case req.RecvUserID == "" || req.Content == "":
		writeEnvelope(w, http.StatusBadRequest, "recipient and content are required", nil)
		return
	}

	id := len(s.messages) + 1
	s.messages = append(s.messages, api.Message{
		ID:         api.FlexString(fmt.Sprint(id)),
		Content:    req.Content,
		SendUserID: api.FlexString(s.profiles[name].UserID),
		RecvUserID: api.FlexString(req.RecvUserID),
		CreateDate: fmt.Sprintf("2025-01-01 10:%02d:00", id%60),
	})
	writeEnvelope(w, http.StatusOK, "ok", id)
}

func writeEnvelope(w http.ResponseWriter, code int, info string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"code": code,
		"info": info,
		"data": data,
	})
}
