package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/xprocessing/neoaigc/internal/deferred"
	"github.com/xprocessing/neoaigc/internal/domain"
	"github.com/xprocessing/neoaigc/internal/login"
	"github.com/xprocessing/neoaigc/internal/notify"
	"github.com/xprocessing/neoaigc/pkg/zip"
)

var errUsage = errors.New("usage")

func (a *app) run(ctx context.Context, name string, args []string) error {
	switch name {
	case "t2i":
		return a.textToImage(ctx, args)
	case "i2i":
		return a.imageToImage(ctx, args)
	case "matting":
		return a.matting(ctx, args)
	case "faceswap":
		return a.faceSwap(ctx, args)
	case "tasks":
		return a.tasks(ctx, args)
	case "templates":
		return a.templates(ctx, args)
	case "export":
		return a.export(ctx, args)
	case "whoami":
		return a.whoami(ctx)
	case "login":
		return a.login(ctx)
	case "logout":
		return a.logout(ctx)
	default:
		return errUsage
	}
}

func (a *app) textToImage(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("t2i", flag.ContinueOnError)
	prompt := fs.String("prompt", "", "what to draw (also accepted as trailing arguments)")
	provider := fs.String("provider", "", "generation backend, e.g. tencent or aliyun")
	template := fs.String("template", "", "template id whose prompt is used when -prompt is empty")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	text := firstNonEmpty(*prompt, strings.Join(fs.Args(), " "))
	text, err := a.withTemplate(ctx, domain.ModalityTextToImage, *template, text)
	if err != nil {
		return err
	}
	return a.submit(ctx, func(ctx context.Context) error {
		_, err := a.svc.SubmitTextToImage(ctx, deferred.TextToImage{Prompt: text, Provider: *provider})
		return err
	})
}

func (a *app) imageToImage(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("i2i", flag.ContinueOnError)
	image := fs.String("image", "", "source image path")
	prompt := fs.String("prompt", "", "how to change the image")
	provider := fs.String("provider", "", "generation backend")
	template := fs.String("template", "", "template id whose prompt is used when -prompt is empty")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	file, err := readImage(*image)
	if err != nil {
		return err
	}
	text, err := a.withTemplate(ctx, domain.ModalityImageToImage, *template, firstNonEmpty(*prompt, strings.Join(fs.Args(), " ")))
	if err != nil {
		return err
	}
	return a.submit(ctx, func(ctx context.Context) error {
		_, err := a.svc.SubmitImageToImage(ctx, deferred.ImageToImage{Image: file, Prompt: text, Provider: *provider})
		return err
	})
}

func (a *app) matting(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("matting", flag.ContinueOnError)
	provider := fs.String("provider", "", "generation backend")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	var images []deferred.File
	for _, path := range fs.Args() {
		file, err := readImage(path)
		if err != nil {
			return err
		}
		images = append(images, file)
	}
	return a.submit(ctx, func(ctx context.Context) error {
		_, err := a.svc.SubmitBatch(ctx, deferred.BatchMatting{Images: images, Provider: *provider})
		return err
	})
}

func (a *app) faceSwap(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("faceswap", flag.ContinueOnError)
	modelPath := fs.String("model", "", "photo whose face is replaced")
	facePath := fs.String("face", "", "photo of the face to use")
	enhance := fs.Bool("enhance", false, "also enhance the background")
	provider := fs.String("provider", "", "generation backend")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	model, err := readImage(*modelPath)
	if err != nil {
		return err
	}
	face, err := readImage(*facePath)
	if err != nil {
		return err
	}
	return a.submit(ctx, func(ctx context.Context) error {
		_, err := a.svc.SubmitFaceSwap(ctx, deferred.FaceSwap{Model: model, Face: face, EnhanceBackground: *enhance, Provider: *provider})
		return err
	})
}

// submit runs fn and, when it was deferred for lack of a login, walks the
// user through the QR login. The driver replays the deferred action itself.
func (a *app) submit(ctx context.Context, fn func(context.Context) error) error {
	err := fn(ctx)
	if !errors.Is(err, domain.ErrLoginRequired) {
		return err
	}
	res, err := a.awaitLogin(ctx)
	if err != nil {
		return err
	}
	if res.ReplayErr != nil && !errors.Is(res.ReplayErr, context.Canceled) {
		return res.ReplayErr
	}
	return nil
}

func (a *app) awaitLogin(ctx context.Context) (login.Result, error) {
	if _, err := a.driver.Start(ctx); err != nil {
		return login.Result{}, err
	}
	res := <-a.driver.Done()
	switch {
	case res.State == login.StateResolved:
		if res.User != nil {
			fmt.Fprintln(a.out, a.printer.Sprintf(notify.MsgLoggedIn, res.User.DisplayName()))
		}
		return res, nil
	case errors.Is(res.Err, login.ErrTimeout):
		fmt.Fprintln(a.out, a.printer.Sprintf(notify.MsgLoginTimedOut))
	default:
		fmt.Fprintln(a.out, a.printer.Sprintf(notify.MsgLoginAbandoned))
	}
	return res, res.Err
}

// ensureLoggedIn runs the QR login first when no credential is stored.
func (a *app) ensureLoggedIn(ctx context.Context) error {
	if _, ok := a.creds.Get(); ok {
		return nil
	}
	_, err := a.awaitLogin(ctx)
	return err
}

func (a *app) login(ctx context.Context) error {
	_, err := a.awaitLogin(ctx)
	return err
}

func (a *app) logout(ctx context.Context) error {
	if err := a.driver.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, a.printer.Sprintf(notify.MsgLoggedOut))
	return nil
}

func (a *app) whoami(ctx context.Context) error {
	if _, ok := a.creds.Get(); !ok {
		fmt.Fprintln(a.out, a.printer.Sprintf(notify.MsgNotLoggedIn))
		return nil
	}
	user, err := a.client.CurrentUser(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			fmt.Fprintln(a.out, a.printer.Sprintf(notify.MsgNotLoggedIn))
			return nil
		}
		return err
	}
	fmt.Fprintln(a.out, a.printer.Sprintf(notify.MsgLoggedIn, user.DisplayName()))
	fmt.Fprintln(a.out, a.printer.Sprintf(notify.MsgBalance, user.Balance))
	return nil
}

func (a *app) tasks(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tasks", flag.ContinueOnError)
	kind := fs.String("type", "", "only list one modality (t2i, i2i, matting, faceswap)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	var modality domain.Modality
	if *kind != "" {
		m, ok := domain.ParseModality(*kind)
		if !ok {
			return fmt.Errorf("%w: unknown type %q", domain.ErrValidation, *kind)
		}
		modality = m
	}
	if err := a.ensureLoggedIn(ctx); err != nil {
		return err
	}
	jobs, err := a.client.ListJobs(ctx, modality)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Fprintln(a.out, a.printer.Sprintf(notify.MsgNoJobs))
		return nil
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", j.ID, a.printer.Modality(j.Modality), j.Status, j.CreatedAt.Local().Format("2006-01-02 15:04"), firstNonEmpty(j.ResultURL, j.ErrorMessage))
	}
	return tw.Flush()
}

func (a *app) templates(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("templates", flag.ContinueOnError)
	kind := fs.String("type", "t2i", "modality (t2i, i2i, matting, faceswap)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	modality, ok := domain.ParseModality(*kind)
	if !ok {
		return fmt.Errorf("%w: unknown type %q", domain.ErrValidation, *kind)
	}
	list, err := a.client.ListTemplates(ctx, modality)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(a.out, a.printer.Sprintf(notify.MsgNoTemplates))
		return nil
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	for _, t := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", t.ID, t.Name, t.Prompt)
	}
	return tw.Flush()
}

// export downloads the results of completed jobs into one zip archive.
func (a *app) export(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	kind := fs.String("type", "", "only export one modality")
	outPath := fs.String("out", "neoaigc-results.zip", "archive to write")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	var modality domain.Modality
	if *kind != "" {
		m, ok := domain.ParseModality(*kind)
		if !ok {
			return fmt.Errorf("%w: unknown type %q", domain.ErrValidation, *kind)
		}
		modality = m
	}
	if err := a.ensureLoggedIn(ctx); err != nil {
		return err
	}
	jobs, err := a.client.ListJobs(ctx, modality)
	if err != nil {
		return err
	}
	var assets []zip.Asset
	for _, j := range jobs {
		if j.Status != domain.JobStatusCompleted || j.ResultURL == "" {
			continue
		}
		data, contentType, err := a.client.Download(ctx, j.ResultURL)
		if err != nil {
			a.logger.Warn().Err(err).Str("job_id", j.ID).Msg("export: result download failed")
			continue
		}
		name := strings.ToLower(string(j.Modality)) + "/" + j.ID + path.Ext(strings.SplitN(j.ResultURL, "?", 2)[0])
		assets = append(assets, zip.Asset{Filename: name, MIME: contentType, Data: data, Modified: j.UpdatedAt})
	}
	if len(assets) == 0 {
		fmt.Fprintln(a.out, a.printer.Sprintf(notify.MsgNoJobs))
		return nil
	}
	archive, err := zip.ArchiveAssets(assets)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*outPath, archive, 0o644); err != nil {
		return err
	}
	fmt.Fprintln(a.out, a.printer.Sprintf(notify.MsgSaved, *outPath))
	return nil
}

// withTemplate fills an empty prompt from the template with the given id.
func (a *app) withTemplate(ctx context.Context, modality domain.Modality, id, prompt string) (string, error) {
	if id == "" || strings.TrimSpace(prompt) != "" {
		return prompt, nil
	}
	list, err := a.client.ListTemplates(ctx, modality)
	if err != nil {
		return "", err
	}
	for _, t := range list {
		if t.ID == id {
			return t.Prompt, nil
		}
	}
	return "", fmt.Errorf("template %s: %w", id, domain.ErrNotFound)
}

// readImage loads a file for upload. The content type comes from the
// extension, falling back to sniffing the bytes.
func readImage(path string) (deferred.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return deferred.File{}, fmt.Errorf("%w: image path is required", domain.ErrValidation)
	}
	f, err := os.Open(path)
	if err != nil {
		return deferred.File{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return deferred.File{}, err
	}
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return deferred.File{Name: filepath.Base(path), ContentType: contentType, Data: data}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
