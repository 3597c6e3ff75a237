package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/new1943/msgsource"
	"github.com/new1943/msgsource/config"
	"github.com/new1943/msgsource/locale"
	lhttp "github.com/new1943/msgsource/localization/interceptors/http"
)

const (
	minArgsCommand  = 2
	minArgsGet      = 1
	minArgsWatch    = 2
	defaultInterval = 2 * time.Second
	defaultAddr     = ":8080"
	shutdownTimeout = 10 * time.Second
	headerTimeout   = 5 * time.Second
)

func main() {
	if len(os.Args) < minArgsCommand {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "get":
		exitOnErr(cmdGet(os.Args[2:]))
	case "watch":
		exitOnErr(cmdWatch(os.Args[2:]))
	case "serve":
		exitOnErr(cmdServe(os.Args[2:]))
	case "help", "-h", "--help":
		usage()
	default:
		// #nosec G705 -- CLI output is not rendered in an HTML context.
		fmt.Fprintf(os.Stderr, "unknown command: %q\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stdout, "msgsource <command> [flags] [args]")
	fmt.Fprintln(os.Stdout, "")
	fmt.Fprintln(os.Stdout, "Commands:")
	fmt.Fprintln(os.Stdout, "  get [--config FILE] [--store DSN] [--default TEXT] <code> [locale] [args...]")
	fmt.Fprintln(os.Stdout, "  watch [--config FILE] [--store DSN] [--interval 2s] <code> <locale>")
	fmt.Fprintln(os.Stdout, "  serve [--config FILE] [--store DSN] [--addr :8080]")
	fmt.Fprintln(os.Stdout, "        GET /messages/{code}?arg=...&lang=... (Accept-Language honoured)")
	fmt.Fprintln(os.Stdout, "")
	fmt.Fprintln(os.Stdout, "Configuration is read from the environment (STORE_URI, MESSAGES_BASENAME, ...)")
	fmt.Fprintln(os.Stdout, "and optionally overlaid with a YAML file.")
}

type commonFlags struct {
	configFile string
	storeURI   string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configFile, "config", "", "YAML configuration file")
	fs.StringVar(&c.storeURI, "store", "", "store DSN, overrides STORE_URI")
}

func (c *commonFlags) load() (*config.ConfigurationDefault, error) {
	var (
		cfg config.ConfigurationDefault
		err error
	)
	if c.configFile != "" {
		cfg, err = config.FromFile[config.ConfigurationDefault](c.configFile)
	} else {
		cfg, err = config.FromEnv[config.ConfigurationDefault]()
	}
	if err != nil {
		return nil, err
	}

	if c.storeURI != "" {
		cfg.StoreURI = c.storeURI
	}
	return &cfg, nil
}

func cmdGet(args []string) error {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	defaultMessage := fs.String("default", "", "message returned when the code does not resolve")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < minArgsGet {
		return errors.New("get requires <code>")
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}

	code := fs.Arg(0)
	loc, err := localeArg(fs.Arg(1))
	if err != nil {
		return err
	}

	var msgArgs []any
	if fs.NArg() > minArgsGet+1 {
		for _, a := range fs.Args()[minArgsGet+1:] {
			msgArgs = append(msgArgs, a)
		}
	}

	ctx, src, err := msgsource.Open(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close(ctx) }()

	if *defaultMessage != "" {
		fmt.Fprintln(os.Stdout, src.GetMessage(ctx, code, msgArgs, *defaultMessage, loc))
		return nil
	}

	msg, err := src.Message(ctx, code, msgArgs, loc)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, msg)
	return nil
}

func cmdWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	interval := fs.Duration("interval", defaultInterval, "how often the code is resolved again")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < minArgsWatch {
		return errors.New("watch requires <code> <locale>")
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}

	code := fs.Arg(0)
	loc, err := localeArg(fs.Arg(1))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx, src, err := msgsource.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close(context.Background()) }()

	if err = src.Start(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	last, printed := "", false
	for {
		msg := src.GetMessage(ctx, code, nil, "", loc)
		if !printed || msg != last {
			// #nosec G705 -- CLI output is not rendered in an HTML context.
			fmt.Fprintf(os.Stdout, "%s %s[%s] = %q\n", time.Now().Format(time.RFC3339), code, loc, msg)
			last, printed = msg, true
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	addr := fs.String("addr", defaultAddr, "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx, src, err := msgsource.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close(context.Background()) }()

	if err = src.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newMessageHandler(src),
		ReadHeaderTimeout: headerTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	src.Log(ctx).WithField("addr", *addr).Info("serving messages")
	if err = srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// newMessageHandler serves GET /messages/{code}. The locale comes from the
// lang query value or Accept-Language; repeated arg values are the message
// arguments.
func newMessageHandler(src msgsource.MessageSource) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /messages/{code}", func(w http.ResponseWriter, r *http.Request) {
		var msgArgs []any
		for _, a := range r.URL.Query()["arg"] {
			msgArgs = append(msgArgs, a)
		}

		msg, err := src.Message(r.Context(), r.PathValue("code"), msgArgs, locale.Locale{})
		if err != nil {
			if errors.Is(err, msgsource.ErrNoSuchMessage) {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, msg)
	})

	return lhttp.LanguageHTTPMiddleware(mux)
}

func localeArg(value string) (locale.Locale, error) {
	if value == "" {
		return locale.Locale{}, nil
	}
	return locale.Parse(value)
}

func exitOnErr(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
