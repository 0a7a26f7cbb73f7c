// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package ledger

import (
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rounding selects how a duration is rounded to whole seconds.
type Rounding string

// Supported rounding policies.
const (
	// RoundHalfEven rounds halves to the nearest even second: 2.5 → 2, 3.5 → 4.
	RoundHalfEven Rounding = "half_even"
	// RoundHalfUp rounds halves up: 2.5 → 3.
	RoundHalfUp Rounding = "half_up"
)

// ModelRate is the price of a chat model in US dollars per million tokens.
type ModelRate struct {
	InputPerMTok  float64 `yaml:"input_per_mtok" json:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok" json:"output_per_mtok"`
}

// Pricing holds the rates used to turn API usage into cost.
type Pricing struct {
	// Models maps a model name, or a prefix of it, to its rate.
	Models map[string]ModelRate `yaml:"models" json:"models"`
	// TranscriptionPerSecond is the price of one second of transcribed audio.
	TranscriptionPerSecond float64 `yaml:"transcription_per_second" json:"transcription_per_second"`
	// Rounding is the policy for rounding audio duration.
	Rounding Rounding `yaml:"rounding" json:"rounding"`
}

// DefaultPricing returns list prices of the supported providers.
func DefaultPricing() Pricing {
	return Pricing{
		Models: map[string]ModelRate{
			"gpt-3.5-turbo":    {InputPerMTok: 0.50, OutputPerMTok: 1.50},
			"gpt-4-turbo":      {InputPerMTok: 10.00, OutputPerMTok: 30.00},
			"gpt-4o":           {InputPerMTok: 2.50, OutputPerMTok: 10.00},
			"gpt-4o-mini":      {InputPerMTok: 0.15, OutputPerMTok: 0.60},
			"gpt-4.1":          {InputPerMTok: 2.00, OutputPerMTok: 8.00},
			"gpt-4.1-mini":     {InputPerMTok: 0.40, OutputPerMTok: 1.60},
			"gpt-4.1-nano":     {InputPerMTok: 0.10, OutputPerMTok: 0.40},
			"gemini-1.5-flash": {InputPerMTok: 0.075, OutputPerMTok: 0.30},
			"gemini-1.5-pro":   {InputPerMTok: 1.25, OutputPerMTok: 5.00},
			"gemini-2.0-flash": {InputPerMTok: 0.10, OutputPerMTok: 0.40},
		},
		// $0.006 per minute.
		TranscriptionPerSecond: 0.0001,
		Rounding:               RoundHalfEven,
	}
}

// Rate returns the rate of model. Versioned names such as
// "gpt-4o-mini-2024-07-18" match the longest known prefix.
func (p Pricing) Rate(model string) (ModelRate, bool) {
	if r, ok := p.Models[model]; ok {
		return r, true
	}
	var (
		best  string
		found bool
	)
	for name := range p.Models {
		if strings.HasPrefix(model, name+"-") && len(name) > len(best) {
			best, found = name, true
		}
	}
	return p.Models[best], found
}

// TokenCost returns the cost of a chat completion. Unknown models cost
// nothing.
func (p Pricing) TokenCost(model string, inputTokens, outputTokens int) float64 {
	r, ok := p.Rate(model)
	if !ok {
		return 0
	}
	return float64(inputTokens)*r.InputPerMTok/1e6 + float64(outputTokens)*r.OutputPerMTok/1e6
}

// DurationCost returns the cost of transcribing seconds of audio. The
// duration is rounded to whole seconds before multiplying.
func (p Pricing) DurationCost(seconds float64) float64 {
	if seconds <= 0 || math.IsNaN(seconds) {
		return 0
	}
	return p.TranscriptionPerSecond * p.roundSeconds(seconds)
}

func (p Pricing) roundSeconds(s float64) float64 {
	if p.Rounding == RoundHalfUp {
		return math.Floor(s + 0.5)
	}
	return math.RoundToEven(s)
}

// Validate checks that rates are non-negative and the rounding policy is
// known.
func (p Pricing) Validate() error {
	for name, r := range p.Models {
		if r.InputPerMTok < 0 || r.OutputPerMTok < 0 {
			return fmt.Errorf("model %q has a negative rate", name)
		}
	}
	if p.TranscriptionPerSecond < 0 {
		return fmt.Errorf("transcription rate is negative")
	}
	switch p.Rounding {
	case RoundHalfEven, RoundHalfUp:
	default:
		return fmt.Errorf("unknown rounding policy %q", p.Rounding)
	}
	return nil
}

// pricingFile is the YAML layout of a pricing file. Unset fields keep their
// defaults.
type pricingFile struct {
	Models                 map[string]ModelRate `yaml:"models"`
	TranscriptionPerSecond *float64             `yaml:"transcription_per_second"`
	TranscriptionPerMinute *float64             `yaml:"transcription_per_minute"`
	Rounding               Rounding             `yaml:"rounding"`
}

// LoadPricing reads the YAML file at path and applies it on top of
// [DefaultPricing]:
//
//	models:
//	  gpt-4o-mini:
//	    input_per_mtok: 0.15
//	    output_per_mtok: 0.60
//	transcription_per_minute: 0.006
//	rounding: half_up
func LoadPricing(path string) (Pricing, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Pricing{}, err
	}
	return ParsePricing(b)
}

// ParsePricing is like [LoadPricing], but reads the YAML document from b.
func ParsePricing(b []byte) (Pricing, error) {
	var f pricingFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return Pricing{}, fmt.Errorf("parsing pricing: %w", err)
	}

	p := DefaultPricing()
	for name, r := range f.Models {
		p.Models[name] = r
	}
	switch {
	case f.TranscriptionPerSecond != nil && f.TranscriptionPerMinute != nil:
		return Pricing{}, fmt.Errorf("parsing pricing: both transcription_per_second and transcription_per_minute are set")
	case f.TranscriptionPerSecond != nil:
		p.TranscriptionPerSecond = *f.TranscriptionPerSecond
	case f.TranscriptionPerMinute != nil:
		p.TranscriptionPerSecond = *f.TranscriptionPerMinute / 60
	}
	if f.Rounding != "" {
		p.Rounding = f.Rounding
	}
	if err := p.Validate(); err != nil {
		return Pricing{}, fmt.Errorf("parsing pricing: %w", err)
	}
	return p, nil
}
