package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"landrop/internal/apperr"
	"landrop/internal/client"
)

type clientEnv struct {
	api    *client.Client
	cache  *client.BypassCache
	server string
	out    io.Writer
}

func clientCmd(args []string) error {
	fs := flag.NewFlagSet("client", flag.ExitOnError)
	var (
		server   = fs.String("server", envOr("LANDROP_SERVER", "http://127.0.0.1:2333"), "server URL")
		password = fs.String("password", "", "access password (default: cached login)")
		folder   = fs.String("folder", "", "stored folder name to operate in (default: root)")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	api, err := client.New(client.Config{BaseURL: *server})
	if err != nil {
		return err
	}
	cachePath, err := client.DefaultCachePath()
	if err != nil {
		return err
	}
	env := &clientEnv{api: api, cache: client.OpenBypassCache(cachePath), server: api.BaseURL(), out: os.Stdout}
	switch {
	case *password != "":
		api.SetPassword(*password)
	default:
		if p, ok := env.cache.Get(env.server); ok {
			api.SetPassword(p)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sub, rest := fs.Arg(0), fs.Args()[1:]
	err = env.run(ctx, sub, *folder, rest)
	if errors.Is(err, apperr.ErrAuth) {
		return fmt.Errorf("%w (run: landrop client login)", err)
	}
	return err
}

func (e *clientEnv) run(ctx context.Context, sub, folder string, args []string) error {
	need := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("%s: expected %d argument(s)", sub, n)
		}
		return nil
	}

	switch sub {
	case "ls":
		if len(args) > 0 {
			folder = args[0]
		}
		return e.list(ctx, folder)
	case "put":
		if err := need(1); err != nil {
			return err
		}
		for _, p := range args {
			if err := e.put(ctx, folder, p); err != nil {
				return err
			}
		}
		return nil
	case "get":
		if err := need(1); err != nil {
			return err
		}
		dest := ""
		if len(args) > 1 {
			dest = args[1]
		}
		return e.get(ctx, folder, args[0], dest)
	case "rm":
		if err := need(1); err != nil {
			return err
		}
		return e.api.Delete(ctx, folder, args[0])
	case "mkdir":
		if err := need(1); err != nil {
			return err
		}
		d, err := e.api.Mkdir(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(e.out, "%s\t%s\n", d.StoredName, d.DisplayName)
		return nil
	case "mv":
		if err := need(2); err != nil {
			return err
		}
		target := args[1]
		if target == "/" {
			target = ""
		}
		_, err := e.api.Move(ctx, folder, args[0], target)
		return err
	case "rename":
		if err := need(2); err != nil {
			return err
		}
		d, err := e.api.Rename(ctx, folder, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(e.out, "%s\t%s\n", d.StoredName, d.DisplayName)
		return nil
	case "login":
		return e.login(ctx, os.Stdin)
	case "logout":
		return e.cache.Forget(e.server)
	default:
		return fmt.Errorf("unknown client command %q", sub)
	}
}

func (e *clientEnv) list(ctx context.Context, folder string) error {
	entries, err := e.api.List(ctx, folder)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tUPLOADED\tSTORED AS")
	for _, en := range entries {
		name, size := en.DisplayName, fmt.Sprint(en.Size)
		if en.IsDir {
			name, size = name+"/", "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, size, en.CreatedAt.Local().Format(time.DateTime), en.StoredName)
	}
	return tw.Flush()
}

func (e *clientEnv) put(ctx context.Context, folder, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	files, err := e.api.Upload(ctx, folder, filepath.Base(path), f)
	if err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	for _, r := range files {
		fmt.Fprintf(e.out, "%s\t%s\n", r.Filename, r.DisplayName)
	}
	return nil
}

func (e *clientEnv) get(ctx context.Context, folder, stored, dest string) error {
	tmp, err := os.CreateTemp(".", ".landrop-get-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	name, err := e.api.Download(ctx, folder, stored, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if dest == "" {
		dest = filepath.Base(name)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return err
	}
	fmt.Fprintln(e.out, dest)
	return nil
}

// login reads a password from in, checks it and caches it for BypassTTL.
func (e *clientEnv) login(ctx context.Context, in io.Reader) error {
	st, err := e.api.Status(ctx)
	if err != nil {
		return err
	}
	if !st.RequiresPassword {
		fmt.Fprintln(e.out, "server has no access password")
		return nil
	}
	fmt.Fprint(e.out, "password: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	password := strings.TrimRight(line, "\r\n")
	ok, err := e.api.Verify(ctx, password)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Auth("wrong password")
	}
	if err := e.cache.Put(e.server, password); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "logged in for %s\n", client.BypassTTL)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
