package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MrEthical07/trustcore/audit"
	"github.com/MrEthical07/trustcore/store"
)

// eventFile is the YAML shape accepted by "audit score".
type eventFile struct {
	UserID           string         `yaml:"user_id"`
	EventType        string         `yaml:"event_type"`
	Category         store.Category `yaml:"category"`
	Severity         store.Severity `yaml:"severity"`
	SourceIP         string         `yaml:"source_ip"`
	UserAgent        string         `yaml:"user_agent"`
	ResourceAccessed string         `yaml:"resource_accessed"`
	Details          map[string]any `yaml:"details"`
	Success          bool           `yaml:"success"`
	ErrorMessage     string         `yaml:"error_message"`
}

type scoreResult struct {
	EventType  string   `yaml:"event_type"`
	Indicators []string `yaml:"indicators"`
	RiskScore  int      `yaml:"risk_score"`
	Scanner    bool     `yaml:"scanner"`
	Incident   bool     `yaml:"incident"`
}

func newAuditCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit engine tools",
	}
	cmd.AddCommand(newAuditScoreCmd(a))
	return cmd
}

func newAuditScoreCmd(a *app) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score an event file against the signature table without storing it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sigs, err := a.cfg.signatures()
			if err != nil {
				return err
			}

			var in io.Reader = cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			res, err := scoreEvent(in, audit.NewDetector(sigs), a.cfg.IncidentThreshold)
			if err != nil {
				return err
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer enc.Close()
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "event YAML file, - for stdin")
	return cmd
}

func scoreEvent(r io.Reader, d *audit.Detector, threshold int) (*scoreResult, error) {
	var ev eventFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if ev.EventType == "" {
		return nil, fmt.Errorf("event_type is required")
	}

	e := &store.AuditEvent{
		UserID:           ev.UserID,
		EventType:        ev.EventType,
		Category:         ev.Category,
		Severity:         ev.Severity,
		SourceIP:         ev.SourceIP,
		UserAgent:        ev.UserAgent,
		ResourceAccessed: ev.ResourceAccessed,
		ActionDetails:    ev.Details,
		Success:          ev.Success,
		ErrorMessage:     ev.ErrorMessage,
	}
	indicators := d.Detect(e)
	score := d.Score(e, indicators)

	return &scoreResult{
		EventType:  ev.EventType,
		Indicators: indicators,
		RiskScore:  score,
		Scanner:    d.IsScanner(ev.UserAgent),
		Incident:   score >= threshold,
	}, nil
}
