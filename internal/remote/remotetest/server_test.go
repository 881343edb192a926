package remotetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xprocessing/neoaigc/internal/domain"
	"github.com/xprocessing/neoaigc/internal/remote"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

func newClient(t *testing.T, s *Server, token string, locale string) *remote.Client {
	t.Helper()
	srv := s.Start()
	t.Cleanup(srv.Close)
	return remote.NewClient(remote.Options{BaseURL: BaseURL(srv.URL), Tokens: staticToken(token), Locale: locale})
}

func TestJobWalksDefaultScript(t *testing.T) {
	s := New(Options{})
	token, user := s.IssueToken("neo")
	c := newClient(t, s, token, "")
	ctx := context.Background()

	id, err := c.SubmitJob(ctx, remote.SubmitRequest{Modality: domain.ModalityTextToImage, Prompt: "sunset"})
	require.NoError(t, err)

	var statuses []domain.JobStatus
	for i := 0; i < 4; i++ {
		job, err := c.GetJob(ctx, id)
		require.NoError(t, err)
		statuses = append(statuses, job.Status)
	}
	assert.Equal(t, []domain.JobStatus{
		domain.JobStatusPending,
		domain.JobStatusProcessing,
		domain.JobStatusCompleted,
		domain.JobStatusCompleted,
	}, statuses)
	assert.Equal(t, 4, s.Queries(id))

	creates := s.Creates()
	require.Len(t, creates, 1)
	assert.Equal(t, user.ID, creates[0].UserID)
}

func TestUnknownAndForeignJobsAreNotFound(t *testing.T) {
	s := New(Options{})
	owner, _ := s.IssueToken("owner")
	other, _ := s.IssueToken("other")
	srv := s.Start()
	defer srv.Close()
	ctx := context.Background()

	ownerClient := remote.NewClient(remote.Options{BaseURL: BaseURL(srv.URL), Tokens: staticToken(owner)})
	otherClient := remote.NewClient(remote.Options{BaseURL: BaseURL(srv.URL), Tokens: staticToken(other)})

	id, err := ownerClient.SubmitJob(ctx, remote.SubmitRequest{Modality: domain.ModalityTextToImage, Prompt: "x"})
	require.NoError(t, err)

	_, err = otherClient.GetJob(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = ownerClient.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAnonymousCallsAreUnauthorized(t *testing.T) {
	s := New(Options{})
	c := newClient(t, s, "", "")

	_, err := c.SubmitJob(context.Background(), remote.SubmitRequest{Modality: domain.ModalityTextToImage, Prompt: "x"})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = c.CurrentUser(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Empty(t, s.Creates())
}

func TestListFiltersByModalityNewestFirst(t *testing.T) {
	s := New(Options{})
	token, _ := s.IssueToken("neo")
	c := newClient(t, s, token, "")
	ctx := context.Background()

	first, err := c.SubmitJob(ctx, remote.SubmitRequest{Modality: domain.ModalityTextToImage, Prompt: "a"})
	require.NoError(t, err)
	_, err = c.SubmitJob(ctx, remote.SubmitRequest{
		Modality: domain.ModalityBatchMatting,
		Prompt:   "Remove background",
		Files:    []remote.FilePart{{Field: "file", Name: "a.png", ContentType: "image/png", Data: []byte{1}}},
	})
	require.NoError(t, err)
	second, err := c.SubmitJob(ctx, remote.SubmitRequest{Modality: domain.ModalityTextToImage, Prompt: "b"})
	require.NoError(t, err)

	jobs, err := c.ListJobs(ctx, domain.ModalityTextToImage)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, second, jobs[0].ID)
	assert.Equal(t, first, jobs[1].ID)

	all, err := c.ListJobs(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestImageModalitiesRequireUpload(t *testing.T) {
	s := New(Options{})
	token, _ := s.IssueToken("neo")
	c := newClient(t, s, token, "")

	_, err := c.SubmitJob(context.Background(), remote.SubmitRequest{Modality: domain.ModalityImageToImage, Prompt: "x"})
	var se *remote.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 400, se.StatusCode)
	assert.Equal(t, "Image file is required", remote.Reason(err))
}

func TestLoginChallengeResolvesOnDemand(t *testing.T) {
	s := New(Options{})
	c := newClient(t, s, "", "")
	ctx := context.Background()

	ch, err := c.LoginChallenge(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, ch.State)
	assert.Contains(t, ch.QRCodeURL, "state="+ch.State)

	_, err = c.ProbeLogin(ctx, ch)
	assert.ErrorIs(t, err, remote.ErrLoginPending)

	require.True(t, s.ResolveLogin(ch.State, "neo"))
	res, err := c.ProbeLogin(ctx, ch)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, "neo", res.User.Nickname)
	assert.Equal(t, 2, s.Probes(ch.State))
	assert.Equal(t, []string{ch.State}, s.Challenges())

	authed := remote.NewClient(remote.Options{BaseURL: c.BaseURL(), Tokens: staticToken(res.Token)})
	u, err := authed.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, u.ID)
}

func TestAutoLogin(t *testing.T) {
	s := New(Options{AutoLoginAfter: 2})
	c := newClient(t, s, "", "")
	ctx := context.Background()

	ch, err := c.LoginChallenge(ctx)
	require.NoError(t, err)
	_, err = c.ProbeLogin(ctx, ch)
	assert.ErrorIs(t, err, remote.ErrLoginPending)
	res, err := c.ProbeLogin(ctx, ch)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
}

func TestTemplatesFollowLocale(t *testing.T) {
	s := New(Options{})
	zh := newClient(t, s, "", "zh-CN")
	en := newClient(t, s, "", "en-US")
	ctx := context.Background()

	zhTemplates, err := zh.ListTemplates(ctx, domain.ModalityTextToImage)
	require.NoError(t, err)
	require.Len(t, zhTemplates, 2)
	assert.Equal(t, "水墨山水", zhTemplates[0].Name)

	enTemplates, err := en.ListTemplates(ctx, domain.ModalityTextToImage)
	require.NoError(t, err)
	assert.Equal(t, "Ink landscape", enTemplates[0].Name)
	assert.Equal(t, zhTemplates[0].Prompt, enTemplates[0].Prompt)
}

func TestRateLimitIsTransient(t *testing.T) {
	s := New(Options{RateLimit: 1})
	token, _ := s.IssueToken("neo")
	c := newClient(t, s, token, "")
	ctx := context.Background()

	_, err := c.ListJobs(ctx, "")
	require.NoError(t, err)
	_, err = c.ListJobs(ctx, "")
	require.Error(t, err)
	assert.True(t, remote.IsTransient(err))
}

func TestResultDownload(t *testing.T) {
	s := New(Options{})
	token, _ := s.IssueToken("neo")
	c := newClient(t, s, token, "")
	ctx := context.Background()

	s.QueueScript(Script{Statuses: []domain.JobStatus{domain.JobStatusCompleted}})
	id, err := c.SubmitJob(ctx, remote.SubmitRequest{Modality: domain.ModalityTextToImage, Prompt: "x"})
	require.NoError(t, err)
	job, err := c.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.WithinDuration(t, time.Now(), job.UpdatedAt, time.Minute)

	data, contentType, err := c.Download(ctx, job.ResultURL)
	require.NoError(t, err)
	assert.Equal(t, "image/png", contentType)
	assert.Equal(t, "\x89PNG", string(data[:4]))
}
