package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"syscall"
	"time"

	"codeberg.org/mutker/iswctl/internal/config"
	"codeberg.org/mutker/iswctl/internal/control"
	"codeberg.org/mutker/iswctl/internal/curve"
	"codeberg.org/mutker/iswctl/internal/ec"
	"codeberg.org/mutker/iswctl/internal/errors"
	"codeberg.org/mutker/iswctl/internal/logger"
	"codeberg.org/mutker/iswctl/internal/metrics"
	"codeberg.org/mutker/iswctl/internal/monitor"
	"codeberg.org/mutker/iswctl/internal/pid"
	"codeberg.org/mutker/iswctl/internal/platform"
	"codeberg.org/mutker/iswctl/internal/profile"
	"codeberg.org/mutker/iswctl/internal/telemetry"
	"github.com/oklog/run"
	"github.com/spf13/pflag"
)

// commands holds the parsed command flags. Several commands may be given at
// once; they run in the order of the fields below.
type commands struct {
	write     string
	set       string
	threshold int
	usb       string
	boost     string
	show      string
	dump      bool
	realtime  int
	follow    bool
	firmware  string
	list      bool
	history   time.Duration
}

func newFlagSet(cmds *commands) *pflag.FlagSet {
	fs := pflag.NewFlagSet("iswctl", pflag.ContinueOnError)
	fs.SortFlags = false

	fs.StringVarP(&cmds.write, "write", "w", "", "Apply the profile of BOARD")
	fs.StringVarP(&cmds.set, "set", "s", "", "Set register ADDR to VALUE (-s ADDR VALUE)")
	fs.IntVarP(&cmds.threshold, "threshold", "t", 0, "Stop charging at PCT percent (20-100)")
	fs.StringVarP(&cmds.usb, "usb", "u", "", "USB backlight level (off, half, full)")
	fs.StringVarP(&cmds.boost, "boost", "b", "", "CoolerBoost (on, off)")
	fs.StringVarP(&cmds.show, "profile", "p", "", "Show the EC values of BOARD's profile registers")
	fs.BoolVarP(&cmds.dump, "dump", "c", false, "Dump all EC registers")
	fs.IntVarP(&cmds.realtime, "realtime", "r", 0, "Stream N live samples (0 or no value: until interrupted)")
	fs.Lookup("realtime").NoOptDefVal = "0"
	fs.BoolVar(&cmds.follow, "follow", false, "Follow fan curves until interrupted")
	fs.StringVarP(&cmds.firmware, "firmware", "f", "", "Show the profiles embedded in an EC firmware FILE")
	fs.BoolVar(&cmds.list, "list", false, "List the boards of the profile database")
	fs.DurationVar(&cmds.history, "show-history", 0, "Show recorded samples of the last DURATION")

	config.RegisterFlags(fs)
	return fs
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

func execute(args []string, stdout, stderr io.Writer) int {
	var cmds commands
	fs := newFlagSet(&cmds)
	fs.SetOutput(stderr)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	// -s ADDR VALUE and -r N leave their second value as an argument.
	rest := fs.Args()
	var setValue string
	if fs.Changed("set") {
		if len(rest) == 0 {
			fmt.Fprintln(stderr, "-s requires ADDR VALUE")
			return 2
		}
		setValue, rest = rest[0], rest[1:]
	}
	if fs.Changed("realtime") && len(rest) > 0 {
		n, err := strconv.Atoi(rest[0])
		if err != nil {
			fmt.Fprintf(stderr, "invalid sample count %q\n", rest[0])
			return 2
		}
		cmds.realtime, rest = n, rest[1:]
	}
	if len(rest) > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %v\n", rest)
		return 2
	}

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return 1
	}

	level, _ := logger.ParseLevel(cfg.EffectiveLogLevel().String())
	logger.Init(level, logger.IsService())
	logger.Debug().Str("profiles", cfg.Profiles).Str("ec_path", cfg.ECPath).Msg("Config loaded")

	app := &app{cfg: cfg, cmds: cmds, setValue: setValue, fs: fs, out: stdout, log: logger.Default()}
	if err := app.run(); err != nil {
		reportError(err)
		return 1
	}
	return 0
}

func reportError(err error) {
	var e errors.Error
	if errors.As(err, &e) {
		logger.ErrorWithCode(e).Msg("Command failed")
		return
	}
	logger.Error().Err(err).Msg("Command failed")
}

type app struct {
	cfg      *config.Config
	cmds     commands
	setValue string
	fs       *pflag.FlagSet
	out      io.Writer
	log      logger.Logger
}

func (a *app) needsEC() bool {
	fs := a.fs
	return fs.Changed("write") || fs.Changed("set") || fs.Changed("threshold") ||
		fs.Changed("usb") || fs.Changed("boost") || fs.Changed("profile") ||
		a.cmds.dump || fs.Changed("realtime") || a.cmds.follow
}

func (a *app) run() error {
	ctx := context.Background()

	if a.cmds.firmware != "" {
		if err := a.showFirmware(); err != nil {
			return err
		}
	}

	if !a.needsEC() && !a.cmds.list && a.cmds.history == 0 {
		if a.cmds.firmware == "" {
			a.fs.PrintDefaults()
		}
		return nil
	}

	db, err := profile.LoadFile(a.cfg.Profiles)
	if err != nil {
		return err
	}
	for _, perr := range db.Errors() {
		a.log.Warn().Err(perr).Msg("Skipped profile section")
	}

	if a.cmds.list {
		printBoards(a.out, db.Boards())
	}
	if a.cmds.history > 0 {
		if err := a.showHistory(ctx); err != nil {
			return err
		}
	}
	if !a.needsEC() {
		return nil
	}

	if !platform.IsPrivileged() {
		return errors.New().WithMessage(errors.ErrPermissionDenied, "iswctl must be run as root")
	}

	ral, err := ec.Open(ec.Config{
		Path:             a.cfg.ECPath,
		WriteSupportPath: a.cfg.WriteSupportPath,
		Range:            ec.FullRange(),
		Attempts:         a.cfg.Retry.Attempts,
		Backoff:          a.cfg.Retry.Backoff,
	}, a.log)
	if err != nil {
		return err
	}
	defer ral.Close()

	store := profile.NewStore(db, platform.BoardName, profile.WithFallback(a.cfg.FallbackBoard))
	ctrl := control.New(ral, store, a.log, control.WithBoard(a.cfg.Board))

	return a.dispatch(ctx, ctrl)
}

func (a *app) dispatch(ctx context.Context, ctrl *control.Controller) error {
	cmds, fs := a.cmds, a.fs

	if fs.Changed("write") {
		res, err := ctrl.ApplyProfile(ctx, cmds.write)
		if res.Board != "" {
			printApply(a.out, res)
		}
		if err != nil {
			return err
		}
	}

	if fs.Changed("set") {
		addr, err := profile.ParseAddress(cmds.set)
		if err != nil {
			return err
		}
		value, err := profile.ParseValue(a.setValue)
		if err != nil {
			return err
		}
		if err := ctrl.WriteRegister(ctx, addr, value); err != nil {
			return err
		}
		printWrite(a.out, "register", profile.Write{Address: addr, Value: value})
	}

	if fs.Changed("threshold") {
		w, err := ctrl.SetChargeThreshold(ctx, cmds.threshold)
		if err != nil {
			return err
		}
		printWrite(a.out, "charge threshold", w)
	}

	if fs.Changed("usb") {
		level, err := control.ParseUSBLevel(cmds.usb)
		if err != nil {
			return err
		}
		w, err := ctrl.SetUSBBacklight(ctx, level)
		if err != nil {
			return err
		}
		printWrite(a.out, "USB backlight", w)
	}

	if fs.Changed("boost") {
		on, err := parseSwitch(cmds.boost)
		if err != nil {
			return err
		}
		w, err := ctrl.SetCoolerBoost(ctx, on)
		if err != nil {
			return err
		}
		printWrite(a.out, "CoolerBoost", w)
	}

	if fs.Changed("profile") {
		st, err := ctrl.ShowProfile(ctx, cmds.show)
		if err != nil {
			return err
		}
		printProfileState(a.out, st)
	}

	if cmds.dump {
		data, err := ctrl.Dump(ctx)
		if err != nil {
			return err
		}
		printDump(a.out, data)
	}

	if fs.Changed("realtime") {
		if err := a.stream(ctx, ctrl); err != nil {
			return err
		}
	}

	if cmds.follow {
		return a.follow(ctx, ctrl)
	}

	return nil
}

func (a *app) stream(ctx context.Context, ctrl *control.Controller) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	g.Add(func() error {
		printSampleHeader(a.out)
		return ctrl.Stream(ctx, "", a.cmds.realtime, a.cfg.IntervalDuration(), func(s monitor.Sample) error {
			printSample(a.out, s)
			return nil
		})
	}, func(error) {
		cancel()
	})

	return ignoreSignal(g.Run())
}

func (a *app) follow(ctx context.Context, ctrl *control.Controller) error {
	if err := pid.Write(a.cfg.PIDFile); err != nil {
		return err
	}
	defer func() {
		if err := pid.Remove(a.cfg.PIDFile); err != nil {
			a.log.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	fcfg := control.FollowConfig{
		Interval:   a.cfg.IntervalDuration(),
		Hysteresis: a.cfg.Hysteresis,
		Smoothing:  a.cfg.Smoothing,
	}

	if a.cfg.CurveFile != "" {
		curves, err := curve.LoadFile(a.cfg.CurveFile)
		if err != nil {
			return err
		}
		fcfg.Curves = curves
	}

	recorder, err := metrics.NewService(a.historyConfig(), a.log.With("history"))
	if err != nil {
		return err
	}
	defer recorder.Close()
	fcfg.Sinks = append(fcfg.Sinks, recorder)

	exporter, err := telemetry.Open(ctx, a.telemetryConfig(), a.log.With("telemetry"))
	if err != nil {
		return err
	}
	defer exporter.Close()
	fcfg.Sinks = append(fcfg.Sinks, exporter.Sinks()...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	g.Add(func() error {
		return ctrl.Follow(ctx, "", fcfg)
	}, func(error) {
		cancel()
	})

	err = ignoreSignal(g.Run())
	logger.Info().Msg("Exiting...")
	return err
}

func (a *app) showFirmware() error {
	f, err := os.Open(a.cmds.firmware)
	if err != nil {
		return errors.New().WrapWithData(errors.ErrInvalidArgument, err, struct{ Path string }{a.cmds.firmware})
	}
	defer f.Close()

	fps, err := profile.ReadFirmwareProfiles(f)
	if err != nil {
		return err
	}
	printFirmware(a.out, fps)
	return nil
}

func (a *app) showHistory(ctx context.Context) error {
	hcfg := a.historyConfig()
	hcfg.Enabled = true
	hcfg.BatchTimeout = 0

	repo, err := metrics.NewRepository(hcfg, a.log.With("history"))
	if err != nil {
		return err
	}
	defer repo.Close()

	samples, err := repo.Query(ctx, time.Now().Add(-a.cmds.history))
	if err != nil {
		return err
	}

	printSampleHeader(a.out)
	for _, s := range samples {
		printSample(a.out, s)
	}
	return nil
}

func (a *app) historyConfig() metrics.Config {
	h := a.cfg.History
	return metrics.Config{
		DBPath:       h.DBPath,
		BatchSize:    h.BatchSize,
		BatchTimeout: h.BatchTimeout,
		Enabled:      h.Enabled,
	}
}

func (a *app) telemetryConfig() telemetry.Config {
	m, i := a.cfg.MQTT, a.cfg.InfluxDB
	return telemetry.Config{
		MQTT: telemetry.MQTTConfig{
			Enabled:     m.Enabled,
			Broker:      m.Broker,
			ClientID:    m.ClientID,
			Username:    m.Username,
			Password:    m.Password,
			TopicPrefix: m.TopicPrefix,
			QoS:         m.QoS,
		},
		InfluxDB: telemetry.InfluxDBConfig{
			Enabled: i.Enabled,
			URL:     i.URL,
			Token:   i.Token,
			Org:     i.Org,
			Bucket:  i.Bucket,
		},
	}
}

func parseSwitch(s string) (bool, error) {
	switch s {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, errors.New().WithData(errors.ErrValidation, struct{ Value string }{s}).
		WithMessage("expected on or off")
}

// ignoreSignal treats termination by signal as a clean exit.
func ignoreSignal(err error) error {
	var se run.SignalError
	if errors.As(err, &se) {
		logger.Info().Str("signal", se.Signal.String()).Msg("Received termination signal")
		return nil
	}
	return err
}
