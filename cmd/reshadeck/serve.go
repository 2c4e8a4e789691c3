package main

import (
	"context"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/user-none/reshadeck/gamescope"
	"github.com/user-none/reshadeck/pack"
	"github.com/user-none/reshadeck/server"
	"github.com/user-none/reshadeck/session"
	"github.com/user-none/reshadeck/shader"
	"github.com/user-none/reshadeck/storage"
)

// serve runs the daemon until ctx is done
func serve(ctx context.Context, settings *storage.Settings, logger hclog.Logger) error {
	fs := afero.NewOsFs()

	installer := pack.NewInstaller(fs, logger.Named("pack"))
	if err := seed(ctx, fs, installer, settings, logger); err != nil {
		return err
	}

	tunable := shader.Tunable(settings.TunableShader)
	patcher := shader.NewPatcher(fs, logger.Named("patcher"))
	catalog := shader.NewCatalog(fs, settings.ShaderDir, logger.Named("catalog"))

	store := storage.NewProfileStore(fs, settings.ConfigFile, logger.Named("profiles"))
	sess := session.New(session.Config{
		Store:     store,
		Patcher:   patcher,
		Activator: gamescope.NewScriptActivator(settings.ApplyScript, settings.ShaderDir, logger.Named("activate")),
		Packs:     installer,
		ShaderDir: settings.ShaderDir,
		Tunable:   tunable,
		Logger:    logger.Named("session"),
	})

	srv := server.New(server.Config{
		Session:   sess,
		Catalog:   catalog,
		Effects:   gamescope.NewEffectQuery(settings.Display, logger.Named("effect")),
		Uniforms:  patcher,
		Profiles:  store,
		ShaderDir: settings.ShaderDir,
		Tunable:   tunable,
		Logger:    logger.Named("server"),
	})

	logger.Info("daemon starting", "config", store.Path(), "shaders", catalog.Dir(), "tunable", tunable.File)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(ctx, settings.Socket)
	})
	g.Go(func() error {
		sess.Start(ctx, settings.StartupDelay)
		return nil
	})
	g.Go(func() error {
		// The daemon is still usable without change notifications
		if err := catalog.Watch(ctx, sess.CatalogChanged); err != nil {
			logger.Warn("shader directory not watched", "error", err)
		}
		return nil
	})
	if settings.FocusPollInterval > 0 {
		focus := gamescope.NewFocusWatcher(settings.Display, settings.FocusPollInterval, logger.Named("focus"))
		g.Go(func() error {
			return focus.Run(ctx, func(appID string) {
				sess.OnApplicationContextChanged(ctx, appID, "")
			})
		})
	}
	return g.Wait()
}

// seed fills the live shader directory from the seed directory or, when
// the seed path is a shader pack archive, from the pack
func seed(ctx context.Context, fs afero.Fs, installer *pack.Installer, settings *storage.Settings, logger hclog.Logger) error {
	if installer.IsArchive(settings.SeedDir) {
		_, err := installer.Install(settings.SeedDir, settings.ShaderDir)
		return err
	}

	n, err := shader.Seed(ctx, fs, settings.SeedDir, settings.ShaderDir, logger.Named("seed"))
	if err != nil {
		return err
	}
	logger.Info("seeded shaders", "count", n, "from", settings.SeedDir, "to", settings.ShaderDir)
	return nil
}
