package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"

	"github.com/yieldforecast/forecaster/internal/api"
	"github.com/yieldforecast/forecaster/internal/log"
	"github.com/yieldforecast/forecaster/internal/model"

	"github.com/spf13/cobra"
)

var (
	userConfigPath string // /default/config/path/forecaster on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config
	logCloser      io.Closer

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag

	flagRequest  model.JobRequest // forecast and availability flags
	flagGeometry string
	flagOwner    uint64
	flagRecord   uint64
	flagLimit    int
	flagWithin   string
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "forecaster")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is forecaster.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	for _, cmd := range []*cobra.Command{forecastCmd, availabilityCmd} {
		cmd.Flags().StringVar(&flagGeometry, "geometry", "", "zone as GeoJSON Point or Polygon")
		cmd.Flags().StringVar(&flagRequest.StartDate, "start", "", "start date YYYY-MM-DD, default January 1st of the observation year")
		cmd.Flags().StringVar(&flagRequest.EndDate, "end", "", "end date YYYY-MM-DD, default December 31st of the observation year")
		cmd.Flags().StringVar(&flagRequest.Date, "date", "", "observation date YYYY-MM-DD, default today")
		_ = cmd.MarkFlagRequired("geometry")
	}
	forecastCmd.Flags().StringVar(&flagRequest.Parameter, "parameter", model.DefaultParameter, "measured index")
	forecastCmd.Flags().StringVar(&flagRequest.Location, "location", "", "zone name, default "+model.DefaultLocation)
	forecastCmd.Flags().Uint64Var(&flagRecord, "id", 0, "yield record to update")
	forecastCmd.Flags().Uint64Var(&flagOwner, "owner", 0, "owner user id")
	recordsCmd.Flags().Uint64Var(&flagOwner, "owner", 0, "list records of this user only")
	recordsCmd.Flags().IntVar(&flagLimit, "limit", 50, "maximum number of records, 0 lists all")
	recordsCmd.Flags().StringVar(&flagWithin, "within", "", "list records whose zone contains LAT,LON only")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initForecaster

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(forecastCmd)
	rootCmd.AddCommand(availabilityCmd)
	rootCmd.AddCommand(recordsCmd)
	rootCmd.AddCommand(versionCmd)

	err := rootCmd.Execute()
	if err != nil {
		slog.Error("forecaster failed", "err", err)
	}
	if logCloser != nil {
		_ = logCloser.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "forecaster",
	Short:        "Crop yield forecasts backed by an external remote sensing job",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve the forecast HTTP API",
	RunE:  doServe,
}

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "run a single forecast and print the yield record",
	RunE:  doForecast,
}

var availabilityCmd = &cobra.Command{
	Use:   "availability",
	Short: "check which satellite images cover a zone",
	RunE:  doAvailability,
}

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "list stored yield records, newest first",
	RunE:  doRecords,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a forecaster",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("forecaster: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config: %s\n", configPath)
		}
		fmt.Printf("forecaster: %s\n", info.Main.Version)
		fmt.Printf("go:         %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:     %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:       %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:      %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func doServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.ContextAttrs(ctx, slog.Group("forecaster",
		slog.String("cmd", "serve"),
		slog.Int("pid", os.Getpid()),
	))

	app, err := newApp(ctx, config)
	if err != nil {
		return err
	}
	defer app.Close(ctx)

	srv := api.New(api.Options{
		Forecaster:        app.orch,
		Runs:              app.store,
		Executable:        config.Job.Forecast.Path,
		ProjectID:         config.Job.ProjectID(),
		AvailabilityRate:  config.Server.AvailabilityRate,
		AvailabilityBurst: config.Server.AvailabilityBurst,
	})
	return srv.ListenAndServe(ctx, config.Server.Addr, config.Server.ShutdownTimeout)
}

func doForecast(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.ContextAttrs(ctx, slog.Group("forecaster",
		slog.String("cmd", "forecast"),
		slog.Int("pid", os.Getpid()),
	))

	app, err := newApp(ctx, config)
	if err != nil {
		return err
	}
	defer app.Close(ctx)

	req := flagRequest
	req.Geometry = json.RawMessage(flagGeometry)
	if cmd.Flags().Changed("id") {
		req.ExistingRecordID = &flagRecord
	}
	if cmd.Flags().Changed("owner") {
		req.OwnerUserID = &flagOwner
	}

	sub, err := app.orch.SubmitRun(ctx, req)
	if err != nil {
		return err
	}
	select {
	case res := <-sub.Done:
		if res.Err != nil {
			return res.Err
		}
		return printJSON(cmd.OutOrStdout(), res.Record)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func doAvailability(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, config)
	if err != nil {
		return err
	}
	defer app.Close(ctx)

	req := flagRequest
	req.Geometry = json.RawMessage(flagGeometry)
	a, err := app.orch.CheckAvailability(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), a)
}

func doRecords(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	app, err := newApp(ctx, config)
	if err != nil {
		return err
	}
	defer app.Close(ctx)

	var owner *uint64
	if cmd.Flags().Changed("owner") {
		owner = &flagOwner
	}
	if flagWithin == "" {
		recs, err := app.store.ListRecords(ctx, owner, flagLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), recs)
	}

	lat, lon, err := parseLocation(flagWithin)
	if err != nil {
		return err
	}
	all, err := app.store.ListRecords(ctx, owner, 0)
	if err != nil {
		return err
	}
	recs := make([]model.YieldRecord, 0, len(all))
	for _, rec := range all {
		if flagLimit > 0 && len(recs) == flagLimit {
			break
		}
		if rec.Covers(lat, lon) {
			recs = append(recs, rec)
		}
	}
	return printJSON(cmd.OutOrStdout(), recs)
}

// parseLocation reads "lat,lon".
func parseLocation(s string) (float64, float64, error) {
	latS, lonS, ok := strings.Cut(s, ",")
	if !ok {
		return 0, 0, fmt.Errorf("location %q: expected LAT,LON", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latS), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("location %q: latitude: %w", s, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonS), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("location %q: longitude: %w", s, err)
	}
	return lat, lon, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func initForecaster(cmd *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv("FORECASTERCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{".", userConfigPath} {
			path := filepath.Join(d, "forecaster.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	// store default configuration
	if configPath == "" {
		var err error
		config, err = model.DefaultConfig()
		if err != nil {
			return err
		}
		configPath = filepath.Join(userConfigPath, "forecaster.yaml")
		err = os.MkdirAll(filepath.Dir(configPath), 0755)
		if err != nil {
			return fmt.Errorf("creating directory %s: %w", filepath.Dir(configPath), err)
		}

		f, err := os.Create(configPath)
		if err != nil {
			return fmt.Errorf("creating file %s: %w", configPath, err)
		}
		defer func() {
			_ = f.Close()
		}()
		if err := model.WriteDefaultConfig(f); err != nil {
			return fmt.Errorf("storing configuration: %w", err)
		}
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		config, err = model.LoadConfig(f)
		if err != nil {
			return fmt.Errorf("parsing config %s: %w", configPath, err)
		}
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		config.Log.Verbose = true
	}

	// initialize logging
	logger, closer, err := log.New(log.Options{
		Verbose: config.Log.Verbose,
		Format:  config.Log.Format,
		Output:  config.Log.Output,
	})
	if err != nil {
		return err
	}
	logCloser = closer
	slog.SetDefault(logger)

	slog.Debug("forecaster run", "configPath", configPath)
	slog.Debug("forecaster run", "config", config)
	return nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
