package remote

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xprocessing/neoaigc/internal/domain"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

// roundTripperFunc lets tests stub the transport without a listener.
type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestSubmitJobMultipartPayload(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/task/create" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Fatalf("unexpected auth header: %q", got)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Fatalf("missing request id")
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.FormValue("type"); got != "FACE_SWAP" {
			t.Fatalf("type = %q", got)
		}
		if got := r.FormValue("prompt"); got != "Face swap" {
			t.Fatalf("prompt = %q", got)
		}
		if got := r.FormValue("provider"); got != "aliyun" {
			t.Fatalf("provider = %q", got)
		}
		model := r.MultipartForm.File["file"]
		face := r.MultipartForm.File["face"]
		if len(model) != 1 || len(face) != 1 {
			t.Fatalf("unexpected files: %v %v", model, face)
		}
		if model[0].Filename != "model.png" || model[0].Header.Get("Content-Type") != "image/png" {
			t.Fatalf("unexpected model part: %+v", model[0].Header)
		}
		_, _ = io.WriteString(w, `{"success":true,"taskId":42,"message":"Task created successfully"}`)
	}))
	defer ts.Close()

	client := NewClient(Options{BaseURL: ts.URL + "/api/", Tokens: staticToken("tok")})
	id, err := client.SubmitJob(context.Background(), SubmitRequest{
		Modality: domain.ModalityFaceSwap,
		Prompt:   "Face swap",
		Provider: "aliyun",
		Files: []FilePart{
			{Field: "file", Name: "model.png", ContentType: "image/png", Data: []byte{1, 2}},
			{Field: "face", Name: "face.jpg", ContentType: "image/jpeg", Data: []byte{3}},
		},
	})
	if err != nil {
		t.Fatalf("SubmitJob error: %v", err)
	}
	if id != "42" {
		t.Fatalf("id = %q, want 42", id)
	}
}

func TestSubmitJobOmitsAuthorizationWithoutToken(t *testing.T) {
	client := NewClient(Options{HTTPClient: &http.Client{Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		if req.Header.Get("Authorization") != "" {
			t.Fatalf("unexpected authorization header")
		}
		return jsonResponse(http.StatusOK, `{"success":true,"taskId":"a1"}`), nil
	})}, Tokens: staticToken("")})
	if _, err := client.SubmitJob(context.Background(), SubmitRequest{Modality: domain.ModalityTextToImage, Prompt: "cat"}); err != nil {
		t.Fatalf("SubmitJob error: %v", err)
	}
}

func TestSubmitJobValidation(t *testing.T) {
	called := false
	client := NewClient(Options{HTTPClient: &http.Client{Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		called = true
		return nil, errors.New("unexpected")
	})}})
	_, err := client.SubmitJob(context.Background(), SubmitRequest{Modality: domain.ModalityTextToImage})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = client.SubmitJob(context.Background(), SubmitRequest{Modality: "VIDEO", Prompt: "x"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if called {
		t.Fatalf("validation failures must not reach the network")
	}
}

func TestSubmitJobErrorTaxonomy(t *testing.T) {
	cases := []struct {
		name  string
		rt    roundTripperFunc
		check func(t *testing.T, err error)
	}{
		{
			name: "transport",
			rt: func(*http.Request) (*http.Response, error) {
				return nil, errors.New("connection refused")
			},
			check: func(t *testing.T, err error) {
				var te *TransportError
				if !errors.As(err, &te) || !IsTransient(err) {
					t.Fatalf("expected transport error, got %v", err)
				}
			},
		},
		{
			name: "application",
			rt: func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusOK, `{"success":false,"message":"Failed to create task: quota exceeded"}`), nil
			},
			check: func(t *testing.T, err error) {
				var ae *ApplicationError
				if !errors.As(err, &ae) {
					t.Fatalf("expected application error, got %v", err)
				}
				if Reason(err) != "Failed to create task: quota exceeded" {
					t.Fatalf("reason = %q", Reason(err))
				}
				if IsTransient(err) {
					t.Fatalf("application errors are not transient")
				}
			},
		},
		{
			name: "server status",
			rt: func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusBadGateway, `upstream down`), nil
			},
			check: func(t *testing.T, err error) {
				var se *StatusError
				if !errors.As(err, &se) || se.StatusCode != http.StatusBadGateway {
					t.Fatalf("expected status error, got %v", err)
				}
				if se.Message != "upstream down" {
					t.Fatalf("message = %q", se.Message)
				}
				if !IsTransient(err) {
					t.Fatalf("5xx should be transient")
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := NewClient(Options{HTTPClient: &http.Client{Transport: tc.rt}})
			_, err := client.SubmitJob(context.Background(), SubmitRequest{Modality: domain.ModalityTextToImage, Prompt: "cat"})
			tc.check(t, err)
		})
	}
}

func TestGetJobDecodesServerRecord(t *testing.T) {
	client := NewClient(Options{HTTPClient: &http.Client{Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/api/task/7" {
			t.Fatalf("unexpected path %s", req.URL.Path)
		}
		return jsonResponse(http.StatusOK, `{"success":true,"data":{"id":7,"userId":"3","type":"TEXT_TO_IMAGE","prompt":"cat","resultUrl":"/uploads/r.png","status":"COMPLETED","createdAt":"2025-03-01T10:20:30","updatedAt":[2025,3,1,10,21,0]}}`), nil
	})}})
	job, err := client.GetJob(context.Background(), "7")
	if err != nil {
		t.Fatalf("GetJob error: %v", err)
	}
	if job.ID != "7" || job.UserID != "3" {
		t.Fatalf("ids = %q %q", job.ID, job.UserID)
	}
	if job.Status != domain.JobStatusCompleted || job.ResultURL != "/uploads/r.png" {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.CreatedAt.Year() != 2025 || job.CreatedAt.Second() != 30 {
		t.Fatalf("createdAt = %s", job.CreatedAt)
	}
	if job.UpdatedAt.Minute() != 21 {
		t.Fatalf("updatedAt = %s", job.UpdatedAt)
	}
}

func TestGetJobNotFound(t *testing.T) {
	client := NewClient(Options{HTTPClient: &http.Client{Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"success":false,"message":"Task not found"}`), nil
	})}})
	_, err := client.GetJob(context.Background(), "99")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListJobsFiltersByType(t *testing.T) {
	client := NewClient(Options{HTTPClient: &http.Client{Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		if got := req.URL.Query().Get("type"); got != "BATCH_MATTING" {
			t.Fatalf("type filter = %q", got)
		}
		return jsonResponse(http.StatusOK, `{"success":true,"data":[{"id":1,"type":"BATCH_MATTING","status":"PENDING"},{"id":2,"type":"BATCH_MATTING","status":"FAILED","errorMessage":"bad image"}],"total":2}`), nil
	})}})
	jobs, err := client.ListJobs(context.Background(), domain.ModalityBatchMatting)
	if err != nil {
		t.Fatalf("ListJobs error: %v", err)
	}
	if len(jobs) != 2 || jobs[1].ErrorMessage != "bad image" {
		t.Fatalf("unexpected jobs %+v", jobs)
	}
}

func TestLoginChallengeParsesStateFromURL(t *testing.T) {
	client := NewClient(Options{HTTPClient: &http.Client{Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"success":true,"qrCodeUrl":"https://open.weixin.qq.com/connect/qrconnect?appid=a&state=abc123#wechat_redirect"}`), nil
	})}})
	ch, err := client.LoginChallenge(context.Background())
	if err != nil {
		t.Fatalf("LoginChallenge error: %v", err)
	}
	if ch.State != "abc123" {
		t.Fatalf("state = %q", ch.State)
	}
	if time.Since(ch.IssuedAt) > time.Minute {
		t.Fatalf("IssuedAt not set")
	}
}

func TestProbeLogin(t *testing.T) {
	responses := []*http.Response{
		jsonResponse(http.StatusUnauthorized, `{"success":false,"message":"Unauthorized"}`),
		jsonResponse(http.StatusOK, `{"success":false,"message":"waiting"}`),
		jsonResponse(http.StatusOK, `{"success":true,"token":"jwt-1","user":{"id":5,"nickname":"panda"}}`),
	}
	client := NewClient(Options{HTTPClient: &http.Client{Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		if got := req.URL.Query().Get("state"); got != "s1" {
			t.Fatalf("state = %q", got)
		}
		resp := responses[0]
		responses = responses[1:]
		return resp, nil
	})}})
	ch := &Challenge{State: "s1"}
	for i := 0; i < 2; i++ {
		if _, err := client.ProbeLogin(context.Background(), ch); !errors.Is(err, ErrLoginPending) {
			t.Fatalf("probe %d: expected ErrLoginPending, got %v", i, err)
		}
	}
	res, err := client.ProbeLogin(context.Background(), ch)
	if err != nil {
		t.Fatalf("ProbeLogin error: %v", err)
	}
	if res.Token != "jwt-1" || res.User == nil || res.User.ID != "5" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestProbeLoginSurfacesTransientFailures(t *testing.T) {
	client := NewClient(Options{HTTPClient: &http.Client{Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusServiceUnavailable, `{"message":"maintenance"}`), nil
	})}})
	_, err := client.ProbeLogin(context.Background(), &Challenge{State: "s"})
	if errors.Is(err, ErrLoginPending) || !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestListTemplates(t *testing.T) {
	client := NewClient(Options{HTTPClient: &http.Client{Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/api/template/list/type/2" {
			t.Fatalf("unexpected path %s", req.URL.Path)
		}
		return jsonResponse(http.StatusOK, `{"success":true,"data":[{"id":1,"name":"Watercolor","type":2,"prompt":"watercolor style"}]}`), nil
	})}})
	templates, err := client.ListTemplates(context.Background(), domain.ModalityImageToImage)
	if err != nil {
		t.Fatalf("ListTemplates error: %v", err)
	}
	if len(templates) != 1 || templates[0].Prompt != "watercolor style" {
		t.Fatalf("unexpected templates %+v", templates)
	}
}

func TestDownloadResolvesRelativeReference(t *testing.T) {
	client := NewClient(Options{BaseURL: "http://studio.local:8080/api", HTTPClient: &http.Client{Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.String() != "http://studio.local:8080/uploads/r.png" {
			t.Fatalf("unexpected url %s", req.URL)
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"image/png"}},
			Body:       io.NopCloser(strings.NewReader("png")),
		}, nil
	})}})
	data, format, err := client.Download(context.Background(), "/uploads/r.png")
	if err != nil {
		t.Fatalf("Download error: %v", err)
	}
	if string(data) != "png" || format != "image/png" {
		t.Fatalf("unexpected download %q %q", data, format)
	}
}
