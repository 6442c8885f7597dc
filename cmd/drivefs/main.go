// Command drivefs mounts a Google Drive account as a local POSIX
// filesystem: parse flags, load config, compute a per-mountpoint cache
// directory, then wire the concrete collaborators (session, googledrive,
// mount) together and serve.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
	bolt "go.etcd.io/bbolt"

	"github.com/relvacode/drivefs/cmd/common"
	"github.com/relvacode/drivefs/googledrive"
	"github.com/relvacode/drivefs/mount"
	"github.com/relvacode/drivefs/session"
)

const appName = "drivefs"

func usage() {
	fmt.Printf(`drivefs - mount a Google Drive account as a Linux filesystem.

This program mounts your Drive account at the given mountpoint. It is not a
sync client - files are fetched on demand and cached locally, subject to the
cacheMaxItems/cacheMaxSeconds limits in the config file. A background
task periodically checks for remote changes (syncInterval).

Usage: drivefs mount <mountpoint> -s <session> [options]
       drivefs login|logout|list|verify <session>

Valid options:
`)
	flag.PrintDefaults()
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "login", "logout", "list", "verify":
			os.Exit(runSessionSubcommand(os.Args[1], os.Args[2:]))
		}
	}

	sessionName := flag.StringP("session", "s", "default",
		"Name of the persisted session to use (see the `login` subcommand).")
	configPath := flag.StringP("config-file", "f", common.DefaultConfigPath(),
		"A YAML-formatted configuration file used by drivefs.")
	logLevel := flag.StringP("log", "l", "",
		"Set logging level/verbosity. One of: fatal, error, warn, info, debug, trace.")
	cacheDir := flag.StringP("cache-dir", "c", "",
		"Change the default cache directory. Created if it does not exist.")
	versionFlag := flag.BoolP("version", "v", false, "Display program version.")
	debugOn := flag.BoolP("debug", "d", false, "Enable FUSE debug logging.")
	help := flag.BoolP("help", "h", false, "Displays this help message.")
	flag.Usage = usage
	flag.Parse()

	if *help {
		flag.Usage()
		os.Exit(0)
	}
	if *versionFlag {
		fmt.Println(appName, common.Version())
		os.Exit(0)
	}

	config := common.LoadConfig(*configPath)
	if *cacheDir != "" {
		config.CacheDir = *cacheDir
	}
	if *logLevel != "" {
		config.LogLevel = *logLevel
	}
	if *debugOn {
		config.LogLevel = "debug"
	}
	zerolog.SetGlobalLevel(common.StringToLevel(config.LogLevel))

	args := flag.Args()
	if len(args) > 0 && args[0] == "mount" {
		args = args[1:]
	}
	if len(args) == 0 {
		flag.Usage()
		fmt.Fprintln(os.Stderr, "\nNo mountpoint provided, exiting.")
		os.Exit(1)
	}
	mountpoint := args[0]

	if config.MountCheck {
		if err := mount.CheckMountpoint(mountpoint); err != nil {
			log.Fatal().Err(err).Msg("Mountpoint is not usable.")
		}
	}

	cachePath, err := common.CacheDirFor(config.CacheDir, mountpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not compute cache directory.")
	}
	os.MkdirAll(cachePath, 0700)

	ctx := context.Background()
	sess, err := session.Load(appName, *sessionName)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load session; run `drivefs login` first.")
	}

	adapter, err := googledrive.New(ctx, sess.HTTPClient(ctx))
	if err != nil {
		log.Fatal().Err(err).Msg("Could not construct Drive adapter.")
	}

	db, err := bolt.Open(cachePath+"/uploads.db", 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open upload-retry database.")
	}
	defer db.Close()

	fsys := mount.New(adapter, mount.Options{
		CacheMaxItems:   config.CacheMaxItems,
		CacheMaxAge:     config.CacheMaxAge(),
		StatfsMaxAge:    config.StatfsMaxAge(),
		SyncInterval:    config.SyncInterval(),
		RenameIdentical: config.RenameIdenticalFiles,
		AddExtensions:   config.AddExtensionsToSpecial,
		SkipTrash:       config.SkipTrash,
		MountOptions:    config.MountOptions,
		Debug:           *debugOn,
	})
	if err := fsys.EnableUploadRetry(db, 30*time.Second); err != nil {
		log.Fatal().Err(err).Msg("Could not start upload-retry manager.")
	}

	log.Info().Msgf("%s %s", appName, common.Version())
	server, err := mount.Mount(ctx, fsys, mountpoint, config.SyncInterval())
	if err != nil {
		log.Fatal().Err(err).Msgf("Mount failed. Is the mountpoint already in use? "+
			"(Try running \"fusermount3 -uz %s\")", mountpoint)
	}

	log.Info().
		Str("cachePath", cachePath).
		Str("mountpoint", mountpoint).
		Msg("Serving filesystem.")
	mount.WaitForUnmountSignal(server)
}
