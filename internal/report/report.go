// Package report renders the outcome of an install run.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/goplus/lpm/internal/scheduler"
)

// Format is an output format.
type Format string

const (
	Text Format = "text"
	JSON Format = "json"
	YAML Format = "yaml"
)

// ParseFormat parses "text", "json" or "yaml".
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case Text, JSON, YAML:
		return f, nil
	case "":
		return Text, nil
	}
	return "", fmt.Errorf("unknown output format %q", s)
}

// Summary is the serialisable form of a scheduler.Result.
type Summary struct {
	RunID     string `json:"run_id" yaml:"run_id"`
	OK        bool   `json:"ok" yaml:"ok"`
	Installed int    `json:"installed" yaml:"installed"`
	Failed    int    `json:"failed" yaml:"failed"`
	Skipped   int    `json:"skipped" yaml:"skipped"`
	Nodes     []Node `json:"nodes" yaml:"nodes"`
}

// Node is the outcome of one node.
type Node struct {
	ID       string `json:"id" yaml:"id"`
	Status   string `json:"status" yaml:"status"`
	Reason   string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
	Root     string `json:"root,omitempty" yaml:"root,omitempty"`
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// Summarize converts res, ordering nodes by ID.
func Summarize(res *scheduler.Result) *Summary {
	s := &Summary{
		RunID:     res.RunID,
		OK:        res.OK(),
		Installed: res.Count(scheduler.Installed),
		Failed:    res.Count(scheduler.Failed),
		Skipped:   res.Count(scheduler.Skipped),
		Nodes:     []Node{},
	}
	for _, o := range res.Sorted() {
		n := Node{ID: o.ID, Status: o.Status.String(), Reason: string(o.Reason)}
		if o.Err != nil {
			n.Error = o.Err.Error()
		}
		if o.Artifact != nil {
			n.Root = o.Artifact.Root
		}
		if !o.Started.IsZero() && !o.Finished.IsZero() {
			n.Duration = o.Finished.Sub(o.Started).Round(time.Millisecond).String()
		}
		s.Nodes = append(s.Nodes, n)
	}
	return s
}

// Write renders res to w in format f.
func Write(w io.Writer, res *scheduler.Result, f Format) error {
	s := Summarize(res)
	switch f {
	case JSON:
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return err
		}
		_, err = w.Write(append(data, '\n'))
		return err
	case YAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return err
		}
		return enc.Close()
	case Text, "":
		return writeText(w, s)
	}
	return fmt.Errorf("unknown output format %q", f)
}

func writeText(w io.Writer, s *Summary) error {
	if _, err := fmt.Fprintf(w, "run %s: %d installed, %d failed, %d skipped\n",
		s.RunID, s.Installed, s.Failed, s.Skipped); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, n := range s.Nodes {
		detail := n.Root
		switch {
		case n.Reason != "":
			detail = n.Reason + ": " + n.Error
		case n.Error != "":
			detail = n.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", n.ID, n.Status, n.Duration, detail)
	}
	return tw.Flush()
}
