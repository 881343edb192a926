package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/xprocessing/neoaigc/internal/login"
	"github.com/xprocessing/neoaigc/internal/notify"
	"github.com/xprocessing/neoaigc/internal/workflow"
)

// terminalPresenter prints the QR link; scanning it on a phone resolves the login.
type terminalPresenter struct {
	out     io.Writer
	printer *notify.Printer

	mu    sync.Mutex
	shown bool
}

func (p *terminalPresenter) Show(c login.Challenge) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, p.printer.Sprintf(notify.MsgScanToLogin, c.QRCodeURL))
	fmt.Fprintln(p.out, p.printer.Sprintf(notify.MsgWaitingForLogin))
	p.shown = true
}

func (p *terminalPresenter) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shown {
		fmt.Fprintln(p.out)
		p.shown = false
	}
}

// terminalSink renders workflow events as localized lines.
type terminalSink struct {
	out     io.Writer
	printer *notify.Printer
	mu      sync.Mutex
}

func (s *terminalSink) Publish(e workflow.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.printer
	var line string
	switch e.Kind {
	case workflow.EventLoginRequired:
		line = p.Sprintf(notify.MsgLoginRequired, p.Modality(e.Modality))
	case workflow.EventSubmitted:
		line = p.Sprintf(notify.MsgSubmitted, p.Modality(e.Modality), e.JobID)
	case workflow.EventSucceeded:
		line = p.Sprintf(notify.MsgSucceeded, e.JobID, e.ResultURL)
	case workflow.EventFailed:
		line = p.Sprintf(notify.MsgFailed, e.JobID, e.Reason)
	case workflow.EventBatchSubmitted:
		line = p.Sprintf(notify.MsgBatchSubmitted, len(e.JobIDs))
	case workflow.EventSaved:
		line = p.Sprintf(notify.MsgSaved, e.Path)
	default:
		return
	}
	fmt.Fprintln(s.out, line)
}
