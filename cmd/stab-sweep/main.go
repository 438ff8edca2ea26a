// stab-sweep searches the motion classifier's threshold space against
// labelled synthetic sequences and reports the best candidates.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/veloframe/steady.video/internal/security"
	"github.com/veloframe/steady.video/internal/stab/classify"
	"github.com/veloframe/steady.video/internal/stab/tune"
)

func main() {
	mode := flag.String("mode", "grid", "search mode: grid or random")
	steps := flag.Int("steps", 6, "grid steps per magnitude axis (grid mode)")
	samples := flag.Int("samples", 500, "candidate count (random mode)")
	topN := flag.Int("top", 10, "number of best candidates to print")
	frames := flag.Int("frames", 120, "frames per synthetic sequence")
	seed := flag.Int64("seed", 1, "generator and sampler seed")
	out := flag.String("out", "", "write the best threshold set to this JSON file")
	flag.Parse()

	suite := tune.GenerateSuite(tune.GeneratorConfig{Frames: *frames, Seed: *seed})
	ranges := tune.DefaultRanges()

	baseline := tune.Score(classify.DefaultThresholds(), suite)
	fmt.Printf("baseline accuracy (shipped thresholds): %.4f\n", baseline)

	var results []tune.Result
	switch *mode {
	case "grid":
		results = tune.GridSearch(suite, ranges, *steps, *topN)
	case "random":
		results = tune.RandomSearch(suite, ranges, *samples, *topN, *seed)
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", *mode)
		os.Exit(1)
	}

	if len(results) == 0 {
		fmt.Fprintln(os.Stderr, "no valid candidates evaluated")
		os.Exit(1)
	}

	fmt.Printf("%-8s %-8s %-8s %-8s %-8s %-8s %s\n",
		"static", "slow", "fast", "var", "hifreq", "consist", "accuracy")
	for _, r := range results {
		t := r.Thresholds
		fmt.Printf("%-8.2f %-8.2f %-8.2f %-8.2f %-8.2f %-8.3f %.4f\n",
			t.StaticMagnitude, t.SlowMagnitude, t.FastMagnitude,
			t.MagnitudeVariance, t.HighFrequencyRatio, t.ConsistencyScore, r.Accuracy)
	}

	if *out != "" {
		if err := security.ValidateExportPath(*out); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		data, err := json.MarshalIndent(results[0].Thresholds, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to marshal thresholds: %v\n", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*out, data, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write %s: %v\n", *out, err)
			os.Exit(1)
		}
		fmt.Printf("wrote best thresholds to %s\n", *out)
	}
}
