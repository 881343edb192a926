package remotetest

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/xprocessing/neoaigc/internal/domain"
	"github.com/xprocessing/neoaigc/internal/middleware"
)

const maxUpload = 60 << 20

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID(*s.opts.Logger), middleware.AccessLog, chimw.Recoverer, middleware.Locale)
	if s.limiter != nil {
		r.Use(s.limiter.Middleware)
	}

	r.Get("/files/{name}", s.handleFile)

	r.Route(APIPrefix, func(r chi.Router) {
		r.Get("/auth/wechat/qr-code", s.handleChallenge)
		r.Get("/auth/wechat/status", s.handleProbe)
		r.Get("/template/list/type/{type}", s.handleTemplates)

		r.Group(func(r chi.Router) {
			r.Use(s.sessions.Require)
			r.Post("/task/create", s.handleCreate)
			r.Get("/task/list", s.handleList)
			r.Get("/task/{id}", s.handleGet)
			r.Get("/auth/user/info", s.handleUserInfo)
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func fail(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"success": false, "message": msg})
}

type jobJSON struct {
	ID           string `json:"id"`
	UserID       string `json:"userId"`
	Type         string `json:"type"`
	Prompt       string `json:"prompt"`
	ImageURL     string `json:"imageUrl,omitempty"`
	ResultURL    string `json:"resultUrl,omitempty"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	CreatedAt    string `json:"createdAt"`
	UpdatedAt    string `json:"updatedAt"`
}

func toJSON(j domain.Job) jobJSON {
	return jobJSON{
		ID:           j.ID,
		UserID:       j.UserID,
		Type:         string(j.Modality),
		Prompt:       j.Prompt,
		ImageURL:     j.ImageURL,
		ResultURL:    j.ResultURL,
		Status:       string(j.Status),
		ErrorMessage: j.ErrorMessage,
		CreatedAt:    j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    j.UpdatedAt.Format(time.RFC3339),
	}
}

type userJSON struct {
	ID       string `json:"id"`
	OpenID   string `json:"openId"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
	Balance  int    `json:"balance"`
}

func toUserJSON(u *domain.User) userJSON {
	return userJSON{ID: u.ID, OpenID: u.OpenID, Nickname: u.Nickname, Avatar: u.Avatar, Balance: u.Balance}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		fail(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	modality := domain.Modality(r.FormValue("type"))
	if !modality.Valid() {
		fail(w, http.StatusBadRequest, "Invalid task type")
		return
	}
	prompt := strings.TrimSpace(r.FormValue("prompt"))
	if prompt == "" {
		fail(w, http.StatusBadRequest, "Prompt is required")
		return
	}

	call := CreateCall{
		UserID:    middleware.UserIDFromContext(r.Context()),
		Type:      modality,
		Prompt:    prompt,
		Provider:  r.FormValue("provider"),
		RequestID: middleware.RequestIDFromContext(r.Context()),
	}
	for _, field := range []string{"file", "face"} {
		for _, fh := range r.MultipartForm.File[field] {
			f, err := fh.Open()
			if err != nil {
				fail(w, http.StatusBadRequest, "Unreadable upload")
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				fail(w, http.StatusBadRequest, "Unreadable upload")
				return
			}
			call.Uploads = append(call.Uploads, Upload{
				Field:       field,
				Name:        fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Data:        data,
			})
		}
	}
	if modality != domain.ModalityTextToImage && len(call.Uploads) == 0 {
		fail(w, http.StatusBadRequest, "Image file is required")
		return
	}

	if msg, ok := s.rejection(); ok {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": msg})
		return
	}
	j := s.createJob(call)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "taskId": j.ID})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok, unavailable := s.advance(id, middleware.UserIDFromContext(r.Context()))
	switch {
	case !ok:
		fail(w, http.StatusNotFound, "Task not found")
	case unavailable:
		fail(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
	default:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": toJSON(job)})
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	modality := domain.Modality(r.URL.Query().Get("type"))
	if modality != "" && !modality.Valid() {
		fail(w, http.StatusBadRequest, "Invalid task type")
		return
	}
	jobs := s.listJobs(middleware.UserIDFromContext(r.Context()), modality)
	data := make([]jobJSON, 0, len(jobs))
	for _, j := range jobs {
		data = append(data, toJSON(j))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data, "total": len(data)})
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	state := s.newChallenge()
	qr := "https://open.weixin.qq.com/connect/qrconnect?appid=remotetest&response_type=code&scope=snsapi_login&state=" + state
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "qrCodeUrl": qr, "state": state})
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	user, ok := s.probe(r.URL.Query().Get("state"))
	if !ok {
		fail(w, http.StatusOK, "Unknown login state")
		return
	}
	if user == nil {
		fail(w, http.StatusOK, "Waiting for scan")
		return
	}
	token, err := s.sign(user)
	if err != nil {
		fail(w, http.StatusInternalServerError, "Token signing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "token": token, "user": toUserJSON(user)})
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	user, ok := s.user(middleware.UserIDFromContext(r.Context()))
	if !ok {
		fail(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": toUserJSON(user)})
}

type templateJSON struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Type         int    `json:"type"`
	Prompt       string `json:"prompt"`
	PreviewImage string `json:"previewImage,omitempty"`
	Sort         int    `json:"sort"`
}

type templateSeed struct {
	kind   int
	en, zh string
	prompt string
}

var templateSeeds = []templateSeed{
	{1, "Ink landscape", "水墨山水", "traditional Chinese ink painting of misty mountains"},
	{1, "Cyberpunk street", "赛博朋克街道", "neon-lit cyberpunk street at night, rain reflections"},
	{2, "Anime style", "动漫风格", "convert to anime style, clean line art"},
	{2, "Oil painting", "油画风格", "convert to impressionist oil painting"},
	{3, "Product cutout", "商品抠图", "Remove background"},
	{4, "Portrait swap", "人像换脸", "Face swap with background enhancement"},
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	kind, err := strconv.Atoi(chi.URLParam(r, "type"))
	if err != nil || kind < 1 || kind > 4 {
		fail(w, http.StatusBadRequest, "Invalid template type")
		return
	}
	chinese := strings.HasPrefix(middleware.LocaleFromContext(r.Context()), "zh")
	data := make([]templateJSON, 0)
	for i, seed := range templateSeeds {
		if seed.kind != kind {
			continue
		}
		name := seed.en
		if chinese {
			name = seed.zh
		}
		data = append(data, templateJSON{ID: i + 1, Name: name, Type: kind, Prompt: seed.prompt, Sort: len(data)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(chi.URLParam(r, "name"), ".png") {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(pixelPNG)
}

var pixelPNG = func() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}()
