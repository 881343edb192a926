// Package remotetest is an in-memory stand-in for the image generation
// service. It records every job-creation call, walks each job through a
// scripted status sequence and resolves login challenges on demand.
package remotetest

import (
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/xprocessing/neoaigc/internal/domain"
	"github.com/xprocessing/neoaigc/internal/middleware"
)

// APIPrefix is where the JSON API is mounted, mirroring the real deployment.
const APIPrefix = "/api"

// Script is the status sequence a job walks through, one step per status query.
// The last status repeats once reached.
type Script struct {
	Statuses  []domain.JobStatus
	ResultURL string
	Error     string
}

// DefaultScript completes on the third query.
var DefaultScript = Script{Statuses: []domain.JobStatus{
	domain.JobStatusPending,
	domain.JobStatusProcessing,
	domain.JobStatusCompleted,
}}

// Upload is one file part received by task/create.
type Upload struct {
	Field       string
	Name        string
	ContentType string
	Data        []byte
}

// CreateCall records one accepted job-creation request.
type CreateCall struct {
	JobID     string
	UserID    string
	Type      domain.Modality
	Prompt    string
	Provider  string
	Uploads   []Upload
	RequestID string
}

// Options tunes the fake.
type Options struct {
	Secret string
	// AutoLoginAfter resolves every challenge on its Nth probe when > 0.
	AutoLoginAfter int
	// RateLimit caps requests per caller per RateWindow when > 0.
	RateLimit int
	// RateWindow defaults to one second.
	RateWindow time.Duration
	Logger     *zerolog.Logger
}

type job struct {
	domain.Job
	script  Script
	queries int
	steps   int
}

type challenge struct {
	probes   int
	resolved *domain.User
}

// Server is the fake service. The zero value is not usable; call New.
type Server struct {
	opts Options

	mu         sync.Mutex
	jobs       map[string]*job
	creates    []CreateCall
	scripts    []Script
	challenges map[string]*challenge
	users      map[string]*domain.User
	failNext   int
	nextUserID int

	submissions int
	rejects     map[int]string

	sessions *middleware.Sessions
	limiter  *middleware.Limiter
	handler  http.Handler
}

// New builds a fake with an empty job table.
func New(opts Options) *Server {
	if opts.Secret == "" {
		opts.Secret = "remotetest-secret"
	}
	if opts.Logger == nil {
		l := zerolog.Nop()
		opts.Logger = &l
	}
	s := &Server{
		opts:       opts,
		jobs:       make(map[string]*job),
		challenges: make(map[string]*challenge),
		users:      make(map[string]*domain.User),
		rejects:    make(map[int]string),
		nextUserID: 1000,
		sessions:   middleware.NewSessions(opts.Secret, "remotetest", 24*time.Hour),
	}
	if opts.RateLimit > 0 {
		if opts.RateWindow <= 0 {
			opts.RateWindow = time.Second
		}
		s.opts.RateWindow = opts.RateWindow
		s.limiter = middleware.NewLimiter(opts.RateLimit, opts.RateWindow)
	}
	s.handler = s.routes()
	return s
}

// Handler exposes the fake for http.Server or httptest.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves the fake on a local httptest server. Callers close it.
func (s *Server) Start() *httptest.Server {
	return httptest.NewServer(s.handler)
}

// BaseURL returns the API root for a server started at hostURL.
func BaseURL(hostURL string) string {
	return hostURL + APIPrefix
}

// QueueScript makes the next created job follow sc. Queued scripts are used
// in order, then DefaultScript.
func (s *Server) QueueScript(sc Script) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts = append(s.scripts, sc)
}

// FailNextQueries makes the next n task status queries answer 503.
func (s *Server) FailNextQueries(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

// RejectSubmission makes the nth create request from now (1-based) answer
// 200 with {success:false, message: msg}. No job is created for it.
func (s *Server) RejectSubmission(n int, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejects[s.submissions+n] = msg
}

// rejection counts a create request and returns its scripted rejection, if any.
func (s *Server) rejection() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissions++
	msg, ok := s.rejects[s.submissions]
	delete(s.rejects, s.submissions)
	return msg, ok
}

// RevokeToken makes every later authenticated call with token answer 401.
func (s *Server) RevokeToken(token string) {
	s.sessions.Revoke(token)
}

// Throttled reports how many requests the rate limit refused.
func (s *Server) Throttled() int {
	if s.limiter == nil {
		return 0
	}
	return s.limiter.Throttled()
}

// IssueToken registers a user and returns a bearer token for it.
func (s *Server) IssueToken(nickname string) (string, *domain.User) {
	s.mu.Lock()
	user := s.newUserLocked(nickname)
	s.mu.Unlock()
	token, _ := s.sign(user)
	return token, user
}

// ResolveLogin marks the challenge as scanned by a new user with nickname.
// It reports false when state is unknown.
func (s *Server) ResolveLogin(state, nickname string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[state]
	if !ok {
		return false
	}
	if ch.resolved == nil {
		ch.resolved = s.newUserLocked(nickname)
	}
	return true
}

// Creates returns a copy of every accepted job-creation call.
func (s *Server) Creates() []CreateCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CreateCall, len(s.creates))
	copy(out, s.creates)
	return out
}

// Queries returns how many status queries jobID has received, failed ones included.
func (s *Server) Queries(jobID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[jobID]; ok {
		return j.queries
	}
	return 0
}

// Probes returns how many times the challenge state has been probed.
func (s *Server) Probes(state string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.challenges[state]; ok {
		return ch.probes
	}
	return 0
}

// Challenges lists issued challenge states, sorted.
func (s *Server) Challenges() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.challenges))
	for state := range s.challenges {
		out = append(out, state)
	}
	sort.Strings(out)
	return out
}

func (s *Server) newUserLocked(nickname string) *domain.User {
	s.nextUserID++
	id := strconv.Itoa(s.nextUserID)
	if nickname == "" {
		nickname = "user" + id
	}
	u := &domain.User{ID: id, OpenID: uuid.NewString(), Nickname: nickname, Balance: 100}
	s.users[id] = u
	return u
}

func (s *Server) sign(u *domain.User) (string, error) {
	return s.sessions.Issue(u)
}

func (s *Server) createJob(call CreateCall) *job {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc := DefaultScript
	if len(s.scripts) > 0 {
		sc = s.scripts[0]
		s.scripts = s.scripts[1:]
	}
	id := uuid.NewString()
	call.JobID = id
	now := time.Now()
	j := &job{
		Job: domain.Job{
			ID:        id,
			UserID:    call.UserID,
			Modality:  call.Type,
			Prompt:    call.Prompt,
			Status:    domain.JobStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		},
		script: sc,
	}
	if len(call.Uploads) > 0 {
		j.ImageURL = "/files/upload-" + id + ".png"
	}
	s.jobs[id] = j
	s.creates = append(s.creates, call)
	return j
}

// advance moves the job one scripted step and returns a snapshot.
func (s *Server) advance(id, userID string) (domain.Job, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.UserID != userID {
		return domain.Job{}, false, false
	}
	j.queries++
	if s.failNext > 0 {
		s.failNext--
		return domain.Job{}, true, true
	}
	j.steps++
	if n := len(j.script.Statuses); n > 0 {
		idx := j.steps - 1
		if idx >= n {
			idx = n - 1
		}
		j.Status = j.script.Statuses[idx]
	}
	switch j.Status {
	case domain.JobStatusCompleted:
		j.ResultURL = j.script.ResultURL
		if j.ResultURL == "" {
			j.ResultURL = "/files/" + j.ID + ".png"
		}
	case domain.JobStatusFailed:
		j.ErrorMessage = j.script.Error
		if j.ErrorMessage == "" {
			j.ErrorMessage = "Generation failed"
		}
	}
	j.UpdatedAt = time.Now()
	return j.Job, true, false
}

func (s *Server) listJobs(userID string, modality domain.Modality) []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Job, 0)
	for _, call := range s.creates {
		j := s.jobs[call.JobID]
		if j.UserID != userID {
			continue
		}
		if modality != "" && j.Modality != modality {
			continue
		}
		out = append(out, j.Job)
	}
	// newest first, like the service
	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out
}

func (s *Server) newChallenge() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := uuid.NewString()
	s.challenges[state] = &challenge{}
	return state
}

// probe returns the user once the challenge is resolved.
func (s *Server) probe(state string) (*domain.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[state]
	if !ok {
		return nil, false
	}
	ch.probes++
	if ch.resolved == nil && s.opts.AutoLoginAfter > 0 && ch.probes >= s.opts.AutoLoginAfter {
		ch.resolved = s.newUserLocked("")
	}
	return ch.resolved, true
}

func (s *Server) user(id string) (*domain.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, false
	}
	cp := *u
	return &cp, true
}
