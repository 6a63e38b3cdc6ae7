// Package backend selects the classifier backend named by the settings.
package backend

import (
	"github.com/rs/zerolog/log"

	"cc-classifier/internal/backend/native"
	"cc-classifier/internal/backend/remote"
	"cc-classifier/internal/cfg"
	"cc-classifier/internal/classifier"
)

// New returns the remote backend when c asks for one and the in-process
// native backend otherwise.
func New(c *cfg.Settings) classifier.Backend {
	if c.Backend == cfg.BackendRemote {
		log.Info().Str("url", c.RemoteURL).Dur("timeout", c.RemoteTimeout).Msg("using remote classifier backend")
		return remote.New(c.RemoteURL, c.RemoteTimeout)
	}
	opts := native.DefaultOptions()
	opts.Threshold = c.Threshold
	log.Info().Float64("threshold", opts.Threshold).Msg("using native classifier backend")
	return native.New(opts)
}
