package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/quiz-funnel/internal/attribution"
	"github.com/sells-group/quiz-funnel/internal/funnel"
	"github.com/sells-group/quiz-funnel/internal/model"
	"github.com/sells-group/quiz-funnel/internal/session"
	"github.com/sells-group/quiz-funnel/internal/tracking"
)

const demoScript = `
attribution:
  utm_source: demo
answers:
  - {question: q1, label: "Mais ou menos"}
  - {question: q2, label: "45", numeric: 45}
  - {question: q3, label: "R$ 800", numeric: 800}
  - {question: q4, label: "30 a 60 dias"}
  - {question: q5, label: "Às vezes perco o controle"}
  - {question: q6, label: "5", numeric: 5}
  - {question: q7, label: "R$ 150", numeric: 150}
  - {question: q8, label: "20 minutos", numeric: 20}
  - {question: q9, label: "3 meses", numeric: 3}
  - {question: q10, label: "4 horas", numeric: 4}
  - {question: q11, label: "No feeling", tag: feeling}
  - {question: q12, label: "Poucas vendem muito", tag: concentracao}
`

// simScript is a scripted visit.
type simScript struct {
	Attribution map[string]string `yaml:"attribution"`
	Answers     []simAnswer       `yaml:"answers"`
}

type simAnswer struct {
	Question string   `yaml:"question"`
	Label    string   `yaml:"label"`
	Numeric  *float64 `yaml:"numeric"`
	Tag      string   `yaml:"tag"`
}

// simResult is what a scripted visit ends with.
type simResult struct {
	Variant     string               `json:"variant"`
	Profile     string               `json:"profile"`
	Tier        model.Tier           `json:"tier"`
	Bottleneck  string               `json:"bottleneck"`
	Metrics     model.DerivedMetrics `json:"metrics"`
	CheckoutURL string               `json:"checkout_url"`
	HighestStep float64              `json:"highest_step"`
	Screens     []string             `json:"screens"`
	Events      []string             `json:"events"`
}

func parseScript(data []byte) (*simScript, error) {
	var s simScript
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, eris.Wrap(err, "simulate: parse script")
	}
	for i, a := range s.Answers {
		if a.Question == "" {
			return nil, eris.Errorf("simulate: answer %d has no question", i)
		}
	}
	return &s, nil
}

// simulate drives one session through the script on a manual clock, so
// the whole visit runs instantly and deterministically.
func simulate(ctx context.Context, def *funnel.Definition, script *simScript, checkoutBase string) (*simResult, error) {
	clock := session.NewManual()
	events := &tracking.Memory{}
	kv := attribution.NewMemory()
	const visitor = "simulated-visitor"

	if len(script.Attribution) > 0 {
		q := url.Values{}
		for k, v := range script.Attribution {
			q.Set(k, v)
		}
		if _, err := attribution.Capture(ctx, kv, visitor, q); err != nil {
			return nil, err
		}
	}

	ctl := session.New(def, visitor, session.Options{
		AnswerDelay:  session.DefaultAnswerDelay,
		CheckoutBase: checkoutBase,
		Tracker:      tracking.Sync{Sink: events},
		Attribution:  kv,
		Scheduler:    clock,
		Rand:         func() float64 { return 0.5 },
		Now:          func() time.Time { return time.Unix(0, 0).Add(clock.Now()) },
	})
	defer ctl.Close()

	var screens []string
	visit := func() {
		id := ctl.Snapshot().CurrentScreen
		if len(screens) == 0 || screens[len(screens)-1] != id {
			screens = append(screens, id)
		}
	}

	ctl.Start()
	visit()
	ctl.Next()
	visit()

	for _, a := range script.Answers {
		n := model.Number{}
		if a.Numeric != nil {
			n = model.Num(*a.Numeric)
		}
		ctl.Select(a.Question, a.Label, n, a.Tag)
		clock.Advance(ctl.AnswerDelay())
		visit()
		if spec, ok := def.Spec(ctl.Snapshot().CurrentScreen); ok && spec.Step == "insight" {
			ctl.Next()
			visit()
		}
	}

	ctl.StartCalculation()
	visit()
	clock.Flush()
	visit()

	res, err := ctl.Checkout(ctx)
	if err != nil {
		return nil, err
	}
	p, bottleneck := ctl.Profile()
	return &simResult{
		Variant:     def.Name,
		Profile:     p.Name,
		Tier:        p.Tier,
		Bottleneck:  bottleneck,
		Metrics:     res.Conversion.Metrics,
		CheckoutURL: res.URL,
		HighestStep: ctl.Snapshot().HighestStep,
		Screens:     screens,
		Events:      events.Names(),
	}, nil
}

var simulateCmd = &cobra.Command{
	Use:   "simulate [script.yaml]",
	Short: "Run a scripted visit through the funnel and print the outcome",
	Long: `Drives one session through the real engine on a manual clock and prints the
screens visited, metrics, profile, bottleneck and checkout URL.

Without a script a built-in demo visit is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("simulate"); err != nil {
			return err
		}
		data := []byte(demoScript)
		if len(args) == 1 {
			var err error
			if data, err = os.ReadFile(args[0]); err != nil {
				return eris.Wrap(err, "simulate: read script")
			}
		}
		script, err := parseScript(data)
		if err != nil {
			return err
		}

		fc := cfg.Funnel
		fc.Watch = false
		source, _, err := loadDefinition(fc)
		if err != nil {
			return err
		}
		res, err := simulate(cmd.Context(), source.Current(), script, cfg.Checkout.BaseURL)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	rootCmd.AddCommand(simulateCmd)
}
