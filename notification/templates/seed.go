// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package templates

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/StorXNetwork/StorXNotify/notification/message"
)

// Seed is a template entry of a seed file.
type Seed struct {
	Name     string `yaml:"name"`
	Version  int    `yaml:"version"`
	Category string `yaml:"category"`

	Title string `yaml:"title"`
	Body  string `yaml:"body"`

	Priority    string `yaml:"priority"`
	Sound       string `yaml:"sound"`
	Icon        string `yaml:"icon"`
	ClickAction string `yaml:"click_action"`

	Defaults map[string]interface{} `yaml:"defaults"`
	Active   bool                   `yaml:"active"`
}

// ReadSeeds parses a YAML seed file of the form
//
//	templates:
//	  - name: welcome
//	    title: "Welcome {{name}}"
//	    active: true
func ReadSeeds(r io.Reader) ([]Seed, error) {
	var file struct {
		Templates []Seed `yaml:"templates"`
	}

	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, Error.New("invalid seed file: %v", err)
	}
	return file.Templates, nil
}

// Import saves every seed. A seed with a version replaces that version of
// its name, a seed without one becomes the next version. Active seeds are
// activated after saving. Import stops at the first invalid seed.
func (service *Service) Import(ctx context.Context, seeds []Seed) (_ []Template, err error) {
	defer mon.Task()(&ctx)(&err)

	imported := make([]Template, 0, len(seeds))
	for i, seed := range seeds {
		template, err := service.Save(ctx, Template{
			Name:             seed.Name,
			Version:          seed.Version,
			Category:         seed.Category,
			TitleTemplate:    seed.Title,
			BodyTemplate:     seed.Body,
			Priority:         message.Priority(seed.Priority),
			Sound:            seed.Sound,
			Icon:             seed.Icon,
			ClickAction:      seed.ClickAction,
			DefaultVariables: seed.Defaults,
		})
		if err != nil {
			service.log.Error("invalid template seed", zap.Int("index", i), zap.String("name", seed.Name), zap.Error(err))
			return imported, err
		}

		if seed.Active {
			if err := service.Activate(ctx, template.ID); err != nil {
				return imported, err
			}
			template.IsActive = true
		}

		service.log.Info("template imported",
			zap.String("name", template.Name),
			zap.Int("version", template.Version),
			zap.Bool("active", template.IsActive))
		imported = append(imported, template)
	}
	return imported, nil
}
