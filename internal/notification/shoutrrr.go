package notification

import (
	"context"
	"fmt"
	"io"
	"log"
	"slices"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/hydroguard/pestwatch/internal/errors"
	"github.com/hydroguard/pestwatch/internal/logger"
)

// Sender delivers one alert.
type Sender interface {
	Send(ctx context.Context, title, body string) error
}

// ShoutrrrSender sends through every configured shoutrrr service URL.
type ShoutrrrSender struct {
	sender *router.ServiceRouter
}

// NewShoutrrrSender validates urls and builds a single router for all of them.
func NewShoutrrrSender(urls []string, timeout time.Duration) (*ShoutrrrSender, error) {
	if len(urls) == 0 {
		return nil, errors.Newf("at least one notification URL is required").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	sender, err := shoutrrr.CreateSender(slices.Clone(urls)...)
	if err != nil {
		return nil, errors.Newf("invalid notification URL: %s", logger.RedactSensitiveData(err.Error())).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))
	return &ShoutrrrSender{sender: sender}, nil
}

// Send delivers the alert. The router applies its own timeout; ctx is checked
// before sending.
func (s *ShoutrrrSender) Send(ctx context.Context, title, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := stypes.Params{}
	if title != "" {
		params.SetTitle(title)
	}

	var failed []error
	for _, err := range s.sender.Send(body, &params) {
		if err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return errors.Newf("notification delivery failed on %d service(s): %s",
		len(failed), logger.RedactSensitiveData(fmt.Sprint(failed[0]))).
		Component(componentName).
		Category(errors.CategoryNotification).
		Build()
}
