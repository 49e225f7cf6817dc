// Command particlectl drives the simulation REST API from a terminal, using
// the same client as the viewer.
//
// Usage:
//
//	particlectl [-api URL] list|settings|set k=v...|pause|resume|rewind SECONDS|upload FILE|download FILE|reset|stop
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/particleview/internal/httputil"
	"github.com/banshee-data/particleview/internal/simapi"
	"github.com/banshee-data/particleview/internal/version"
)

var (
	apiURL  = flag.String("api", "http://127.0.0.1:8080", "Simulation API base URL")
	timeout = flag.Duration("timeout", 5*time.Second, "Request timeout")
	history = flag.Int("history", 0, "History resolution requested by list")
)

var errUsage = errors.New("usage: particlectl [flags] list|settings|set k=v...|pause|resume|rewind SECONDS|upload FILE|download FILE|reset|stop")

// backend is the part of simapi.Client the commands use.
type backend interface {
	ListParticles(ctx context.Context, historyResolution int) ([]simapi.Particle, error)
	UploadParticles(ctx context.Context, raw json.RawMessage) error
	GetSettings(ctx context.Context) (simapi.Settings, error)
	UpdateSettings(ctx context.Context, update simapi.SettingsUpdate) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
	Reset(ctx context.Context) error
	Rewind(ctx context.Context, seconds float64) error
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "particlectl %s\n%v\n", version.String(), errUsage)
		flag.PrintDefaults()
	}
	flag.Parse()

	client, err := simapi.NewClient(*apiURL, httputil.NewStandardClient(nil, *timeout))
	if err != nil {
		fail(err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, client, flag.Args(), os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			flag.Usage()
			os.Exit(2)
		}
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, color.New(color.FgRed, color.Bold).Sprint("error: ")+err.Error())
	os.Exit(1)
}

func run(ctx context.Context, b backend, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	ok := color.New(color.FgGreen).SprintFunc()

	switch cmd {
	case "list":
		ps, err := b.ListParticles(ctx, *history)
		if err != nil {
			return err
		}
		return writeParticles(out, ps)

	case "settings":
		s, err := b.GetSettings(ctx)
		if err != nil {
			return err
		}
		return writeSettings(out, s)

	case "set":
		form, err := parseAssignments(rest)
		if err != nil {
			return err
		}
		fields := append(append([]string{}, simapi.SimulationFields...), simapi.BoxFields...)
		update, err := simapi.ParseSettingsUpdate(form, fields)
		if err != nil {
			return err
		}
		if err := b.UpdateSettings(ctx, update); err != nil {
			return err
		}

	case "pause":
		if err := b.Pause(ctx); err != nil {
			return err
		}
	case "resume":
		if err := b.Resume(ctx); err != nil {
			return err
		}
	case "reset":
		if err := b.Reset(ctx); err != nil {
			return err
		}
	case "stop":
		if err := b.Stop(ctx); err != nil {
			return err
		}

	case "rewind":
		if len(rest) != 1 {
			return errUsage
		}
		secs, err := strconv.ParseFloat(rest[0], 64)
		if err != nil || secs < 0 {
			return fmt.Errorf("rewind needs a non-negative number of seconds, got %q", rest[0])
		}
		if err := b.Rewind(ctx, secs); err != nil {
			return err
		}

	case "upload":
		if len(rest) != 1 {
			return errUsage
		}
		raw, err := os.ReadFile(rest[0])
		if err != nil {
			return err
		}
		if !json.Valid(raw) {
			return fmt.Errorf("%s is not valid JSON", rest[0])
		}
		if err := b.UploadParticles(ctx, raw); err != nil {
			return err
		}

	case "download":
		if len(rest) != 1 {
			return errUsage
		}
		ps, err := b.ListParticles(ctx, *history)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(ps, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(rest[0], data, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %d particles to %s\n", ok("wrote"), len(ps), rest[0])
		return nil

	default:
		return errUsage
	}

	fmt.Fprintln(out, ok(cmd+": ok"))
	return nil
}

// parseAssignments turns ["dt=0.1", "MAX_X=10"] into a form map.
func parseAssignments(args []string) (map[string]string, error) {
	if len(args) == 0 {
		return nil, errUsage
	}
	form := make(map[string]string, len(args))
	for _, a := range args {
		k, v, found := strings.Cut(a, "=")
		if !found || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", a)
		}
		form[k] = v
	}
	return form, nil
}

func writeParticles(out io.Writer, ps []simapi.Particle) error {
	table := tablewriter.NewWriter(out)
	table.Header("ID", "Name", "Mass", "X", "Y", "Z", "Speed")
	for _, p := range ps {
		speed := r3.Norm(r3.Vec{X: p.VX, Y: p.VY, Z: p.VZ})
		if err := table.Append([]string{
			strconv.Itoa(p.ID),
			p.Name,
			strconv.FormatFloat(p.Mass, 'g', 6, 64),
			fmt.Sprintf("%.3f", p.X),
			fmt.Sprintf("%.3f", p.Y),
			fmt.Sprintf("%.3f", p.Z),
			fmt.Sprintf("%.3f", speed),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func writeSettings(out io.Writer, s simapi.Settings) error {
	table := tablewriter.NewWriter(out)
	table.Header("Field", "Value")
	rows := [][]string{
		{"dt", strconv.FormatFloat(s.Dt, 'g', -1, 64)},
		{"t_total", strconv.FormatFloat(s.TTotal, 'g', -1, 64)},
		{"current_time", strconv.FormatFloat(s.CurrentTime, 'g', -1, 64)},
		{"nb_particles", strconv.Itoa(s.NbParticles)},
		{"paused", strconv.FormatBool(s.Paused)},
	}
	if box, ok := s.Box(); ok {
		rows = append(rows,
			[]string{"box min", fmt.Sprintf("(%g, %g, %g)", box.MinX, box.MinY, box.MinZ)},
			[]string{"box max", fmt.Sprintf("(%g, %g, %g)", box.MaxX, box.MaxY, box.MaxZ)},
		)
	}
	for _, r := range rows {
		if err := table.Append(r); err != nil {
			return err
		}
	}
	return table.Render()
}
