// Package workflow implements the four generation features on top of the
// remote client, the credential store and the deferred action registry.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/xprocessing/neoaigc/internal/deferred"
	"github.com/xprocessing/neoaigc/internal/domain"
	"github.com/xprocessing/neoaigc/internal/infra"
	"github.com/xprocessing/neoaigc/internal/poller"
	"github.com/xprocessing/neoaigc/internal/remote"
	"github.com/xprocessing/neoaigc/internal/storage"
)

const (
	// MaxUploadBytes mirrors the service's multipart limit.
	MaxUploadBytes = 50 << 20

	mattingPrompt          = "Remove background"
	faceSwapPrompt         = "Face swap"
	faceSwapEnhancedPrompt = "Face swap with background enhancement"
)

// Remote is the slice of the service client the workflow needs.
type Remote interface {
	SubmitJob(ctx context.Context, req remote.SubmitRequest) (string, error)
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	Download(ctx context.Context, ref string) ([]byte, string, error)
}

// Credentials reports whether the user is logged in.
type Credentials interface {
	Get() (domain.Credential, bool)
}

// Config wires a Service. Sink, Downloads and Logger are optional.
type Config struct {
	Remote          Remote
	Credentials     Credentials
	Registry        *deferred.Registry
	Poll            poller.Options
	Sink            EventSink
	Downloads       *storage.FileStore
	DefaultProvider string
	Logger          *infra.Logger
}

// Result summarizes one feature invocation.
type Result struct {
	Modality  domain.Modality
	JobIDs    []string
	Outcome   *poller.Outcome
	SavedPath string
}

// Service runs submissions, defers them when logged out, and watches
// single-job modalities to completion.
type Service struct {
	cfg Config
	log *infra.Logger
}

// NewService fills defaults for the optional fields of cfg.
func NewService(cfg Config) *Service {
	if cfg.Sink == nil {
		cfg.Sink = discardSink{}
	}
	if cfg.Logger == nil {
		cfg.Logger = infra.NopLogger()
	}
	if cfg.Poll.Logger == nil {
		cfg.Poll.Logger = cfg.Logger
	}
	if cfg.Registry == nil {
		cfg.Registry = deferred.NewRegistry()
	}
	return &Service{cfg: cfg, log: cfg.Logger}
}

// Registry exposes the registry shared with the login driver.
func (s *Service) Registry() *deferred.Registry {
	return s.cfg.Registry
}

// SubmitTextToImage generates an image from a prompt.
func (s *Service) SubmitTextToImage(ctx context.Context, in deferred.TextToImage) (Result, error) {
	if strings.TrimSpace(in.Prompt) == "" {
		return Result{}, fmt.Errorf("text to image: %w: prompt is required", domain.ErrValidation)
	}
	return s.run(ctx, deferred.NewTextToImage(in))
}

// SubmitImageToImage restyles an uploaded image with a prompt.
func (s *Service) SubmitImageToImage(ctx context.Context, in deferred.ImageToImage) (Result, error) {
	if err := validateFile("image", in.Image); err != nil {
		return Result{}, fmt.Errorf("image to image: %w", err)
	}
	if strings.TrimSpace(in.Prompt) == "" {
		return Result{}, fmt.Errorf("image to image: %w: prompt is required", domain.ErrValidation)
	}
	return s.run(ctx, deferred.NewImageToImage(in))
}

// SubmitBatch removes the background from each image as an independent job.
// Batch jobs are not polled.
func (s *Service) SubmitBatch(ctx context.Context, in deferred.BatchMatting) (Result, error) {
	if len(in.Images) == 0 {
		return Result{}, fmt.Errorf("batch matting: %w: at least one image is required", domain.ErrValidation)
	}
	for i, img := range in.Images {
		if err := validateFile(fmt.Sprintf("image %d", i+1), img); err != nil {
			return Result{}, fmt.Errorf("batch matting: %w", err)
		}
	}
	return s.run(ctx, deferred.NewBatchMatting(in))
}

// SubmitFaceSwap puts the face onto the model photo.
func (s *Service) SubmitFaceSwap(ctx context.Context, in deferred.FaceSwap) (Result, error) {
	if err := validateFile("model image", in.Model); err != nil {
		return Result{}, fmt.Errorf("face swap: %w", err)
	}
	if err := validateFile("face image", in.Face); err != nil {
		return Result{}, fmt.Errorf("face swap: %w", err)
	}
	return s.run(ctx, deferred.NewFaceSwap(in))
}

// Replay re-submits an action that was deferred while logged out.
func (s *Service) Replay(ctx context.Context, action deferred.PendingAction) error {
	if err := action.Validate(); err != nil {
		return err
	}
	var err error
	switch action.Modality {
	case domain.ModalityTextToImage:
		_, err = s.SubmitTextToImage(ctx, *action.TextToImage)
	case domain.ModalityImageToImage:
		_, err = s.SubmitImageToImage(ctx, *action.ImageToImage)
	case domain.ModalityBatchMatting:
		_, err = s.SubmitBatch(ctx, *action.BatchMatting)
	case domain.ModalityFaceSwap:
		_, err = s.SubmitFaceSwap(ctx, *action.FaceSwap)
	default:
		err = fmt.Errorf("replay: %w: unknown modality %q", domain.ErrValidation, action.Modality)
	}
	return err
}

func (s *Service) run(ctx context.Context, action deferred.PendingAction) (Result, error) {
	if err := action.Validate(); err != nil {
		return Result{}, err
	}
	if _, ok := s.cfg.Credentials.Get(); !ok {
		if err := s.cfg.Registry.Defer(action); err != nil {
			return Result{}, err
		}
		s.log.Info().Str("modality", string(action.Modality)).Msg("workflow: login required, action deferred")
		s.cfg.Sink.Publish(Event{Kind: EventLoginRequired, Modality: action.Modality})
		return Result{Modality: action.Modality}, domain.ErrLoginRequired
	}

	if action.Modality == domain.ModalityBatchMatting {
		return s.runBatch(ctx, *action.BatchMatting)
	}

	req, err := s.request(action)
	if err != nil {
		return Result{}, err
	}
	id, err := s.submit(ctx, req)
	res := Result{Modality: action.Modality}
	if err != nil {
		return res, err
	}
	res.JobIDs = []string{id}
	return s.watch(ctx, res, id)
}

func (s *Service) request(action deferred.PendingAction) (remote.SubmitRequest, error) {
	req := remote.SubmitRequest{Modality: action.Modality}
	switch action.Modality {
	case domain.ModalityTextToImage:
		in := action.TextToImage
		req.Prompt = strings.TrimSpace(in.Prompt)
		req.Provider = s.provider(in.Provider)
	case domain.ModalityImageToImage:
		in := action.ImageToImage
		req.Prompt = strings.TrimSpace(in.Prompt)
		req.Provider = s.provider(in.Provider)
		req.Files = []remote.FilePart{filePart("file", in.Image)}
	case domain.ModalityFaceSwap:
		in := action.FaceSwap
		req.Prompt = faceSwapPrompt
		if in.EnhanceBackground {
			req.Prompt = faceSwapEnhancedPrompt
		}
		req.Provider = s.provider(in.Provider)
		req.Files = []remote.FilePart{filePart("file", in.Model), filePart("face", in.Face)}
	default:
		return req, fmt.Errorf("workflow: %w: unsupported modality %q", domain.ErrValidation, action.Modality)
	}
	return req, nil
}

func (s *Service) provider(p string) string {
	if p = strings.TrimSpace(p); p != "" {
		return p
	}
	return s.cfg.DefaultProvider
}

func (s *Service) submit(ctx context.Context, req remote.SubmitRequest) (string, error) {
	id, err := s.cfg.Remote.SubmitJob(ctx, req)
	if err != nil {
		s.log.Warn().Err(err).Str("modality", string(req.Modality)).Msg("workflow: submission failed")
		s.cfg.Sink.Publish(Event{Kind: EventFailed, Modality: req.Modality, Reason: remote.Reason(err)})
		return "", err
	}
	s.cfg.Sink.Publish(Event{Kind: EventSubmitted, Modality: req.Modality, JobID: id})
	return id, nil
}

// runBatch submits every image as its own job. A rejected image is reported
// and skipped; a failure to reach the service stops the batch.
func (s *Service) runBatch(ctx context.Context, in deferred.BatchMatting) (Result, error) {
	res := Result{Modality: domain.ModalityBatchMatting}
	var errs []error
	for i, img := range in.Images {
		id, err := s.submit(ctx, remote.SubmitRequest{
			Modality: domain.ModalityBatchMatting,
			Prompt:   mattingPrompt,
			Provider: s.provider(in.Provider),
			Files:    []remote.FilePart{filePart("file", img)},
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("batch matting: image %d of %d: %w", i+1, len(in.Images), err))
			var rejected *remote.ApplicationError
			if errors.As(err, &rejected) && ctx.Err() == nil {
				continue
			}
			break
		}
		res.JobIDs = append(res.JobIDs, id)
	}
	if len(res.JobIDs) > 0 {
		s.cfg.Sink.Publish(Event{Kind: EventBatchSubmitted, Modality: domain.ModalityBatchMatting, JobIDs: res.JobIDs})
	}
	return res, errors.Join(errs...)
}

func (s *Service) watch(ctx context.Context, res Result, id string) (Result, error) {
	outcome, err := poller.New(s.cfg.Remote, id, s.cfg.Poll).Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return res, err
		}
		s.cfg.Sink.Publish(Event{Kind: EventFailed, Modality: res.Modality, JobID: id, Reason: err.Error()})
		return res, err
	}
	res.Outcome = &outcome
	if !outcome.Succeeded() {
		s.cfg.Sink.Publish(Event{Kind: EventFailed, Modality: res.Modality, JobID: id, Reason: outcome.Error})
		return res, nil
	}
	s.cfg.Sink.Publish(Event{Kind: EventSucceeded, Modality: res.Modality, JobID: id, ResultURL: outcome.ResultURL})

	if s.cfg.Downloads != nil && outcome.ResultURL != "" {
		path, err := s.save(ctx, id, outcome.ResultURL)
		if err != nil {
			s.log.Warn().Err(err).Str("job_id", id).Msg("workflow: result not saved")
			return res, nil
		}
		res.SavedPath = path
		s.cfg.Sink.Publish(Event{Kind: EventSaved, Modality: res.Modality, JobID: id, Path: path})
	}
	return res, nil
}

func (s *Service) save(ctx context.Context, id, ref string) (string, error) {
	data, contentType, err := s.cfg.Remote.Download(ctx, ref)
	if err != nil {
		return "", err
	}
	return s.cfg.Downloads.Write(ctx, "results/"+id+extension(contentType), data)
}

func extension(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".png"
	}
	switch mediaType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}

// validateFile applies the upload guard: non-empty, within the size limit,
// and an image content type (sniffed when the caller did not set one).
func validateFile(label string, f deferred.File) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%w: %s is required", domain.ErrValidation, label)
	}
	if len(f.Data) > MaxUploadBytes {
		return fmt.Errorf("%w: %s exceeds %d MB", domain.ErrValidation, label, MaxUploadBytes>>20)
	}
	if !strings.HasPrefix(contentType(f), "image/") {
		return fmt.Errorf("%w: %s is not an image", domain.ErrValidation, label)
	}
	return nil
}

func contentType(f deferred.File) string {
	if ct := strings.TrimSpace(f.ContentType); ct != "" {
		return strings.ToLower(ct)
	}
	return http.DetectContentType(f.Data)
}

func filePart(field string, f deferred.File) remote.FilePart {
	name := f.Name
	if name == "" {
		name = field + extension(contentType(f))
	}
	return remote.FilePart{Field: field, Name: name, ContentType: contentType(f), Data: f.Data}
}
