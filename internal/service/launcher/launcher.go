package launcher

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"time"

	"github.com/oshokin/wits/internal/config"
	"github.com/oshokin/wits/internal/domain/wits"
	"github.com/oshokin/wits/internal/logger"
	"github.com/oshokin/wits/internal/prompt"
	"github.com/oshokin/wits/internal/repository/session"
	"github.com/oshokin/wits/internal/service/assets"
	"github.com/oshokin/wits/internal/service/device"
	"github.com/oshokin/wits/internal/service/manifest"
	"github.com/oshokin/wits/internal/service/packager"
	"github.com/oshokin/wits/internal/service/scaffold"
	"github.com/oshokin/wits/internal/service/signing"
	"github.com/oshokin/wits/internal/service/template"
	"github.com/oshokin/wits/internal/workspace"
)

var errIncompleteAnswers = errors.New("base app path, host address and signing profile are required, run wits init first")

// Asker collects the run answers and the device address.
type Asker func(ctx context.Context, defaults wits.UserAnswers, deviceIP string) (wits.UserAnswers, string, error)

// Options contains inputs shared by the wits workflows.
type Options struct {
	// BasePath is the tool base directory holding container, tools and resource.
	BasePath string
	// ProjectDir is the user's project directory; defaults to the working directory.
	ProjectDir string
	// SettingsPath is the tool settings file; defaults to wits-settings.yaml in BasePath.
	SettingsPath string
	// Address overrides the stored device address.
	Address string
	// Interactive enables prompts for answers and device selection.
	Interactive bool
	// TrustWait bounds how long Connect waits for the certificate push; zero
	// returns as soon as the device is resolved.
	TrustWait time.Duration

	// Bridge overrides the bridge tool built from the settings.
	Bridge device.Bridge
	// Signer overrides the signer built from the settings.
	Signer signing.Signer
	// Chooser overrides the interactive device chooser.
	Chooser device.Chooser
	// Asker overrides the interactive answers prompt.
	Asker Asker
}

// environment is the state one workflow runs with.
type environment struct {
	opts     *Options
	ws       workspace.Context
	settings *config.Settings
	project  *config.ProjectConfig
	sessions session.Repository
}

// Init prepares the project files and the prebuilt assets, then asks for
// the answers when interactive.
func Init(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "wits-init")

	env, err := newEnvironment(opts)
	if err != nil {
		return err
	}

	if err = env.prepare(ctx); err != nil {
		return err
	}

	if opts.Interactive {
		if _, err = env.ask(ctx); err != nil {
			return err
		}
	}

	logger.Info(ctx, "Wits is ready")

	return nil
}

// Connect resolves the target device and stores it for later builds.
func Connect(ctx context.Context, opts *Options) (wits.DeviceInfo, error) {
	ctx = logger.WithName(ctx, "wits-connect")

	env, err := newEnvironment(opts)
	if err != nil {
		return wits.DeviceInfo{}, err
	}

	return env.connect(ctx, env.address())
}

// Build packages the debugging shell for the stored answers and device.
func Build(ctx context.Context, opts *Options) (*packager.Result, error) {
	ctx = logger.WithName(ctx, "wits-build")

	env, err := newEnvironment(opts)
	if err != nil {
		return nil, err
	}

	answers := prompt.WithDefaults(env.project.Answers(), prompt.LocalIP())
	if err = requireAnswers(answers); err != nil {
		return nil, err
	}

	info, err := env.device(ctx)
	if err != nil {
		return nil, err
	}

	return env.build(ctx, answers, info)
}

// Start runs init, the answers prompt, connect and build in order.
func Start(ctx context.Context, opts *Options) (*packager.Result, error) {
	ctx = logger.WithName(ctx, "wits-start")

	env, err := newEnvironment(opts)
	if err != nil {
		return nil, err
	}

	if err = env.prepare(ctx); err != nil {
		return nil, err
	}

	answers := prompt.WithDefaults(env.project.Answers(), prompt.LocalIP())
	if opts.Interactive {
		if answers, err = env.ask(ctx); err != nil {
			return nil, err
		}
	}

	if err = requireAnswers(answers); err != nil {
		return nil, err
	}

	info, err := env.connect(ctx, env.address())
	if err != nil {
		return nil, err
	}

	return env.build(ctx, answers, info)
}

func newEnvironment(opts *Options) (*environment, error) {
	ws, err := workspace.New(opts.BasePath, opts.ProjectDir)
	if err != nil {
		return nil, err
	}

	settingsPath := opts.SettingsPath
	if settingsPath == "" {
		settingsPath = filepath.Join(ws.Base, config.DefaultSettingsFilename)
	}

	settings, err := config.LoadSettings(settingsPath)
	if err != nil {
		return nil, err
	}

	if err = config.ApplyEnv(settings); err != nil {
		return nil, err
	}

	env := &environment{
		opts:     opts,
		ws:       ws,
		settings: settings,
		sessions: session.NewFileRepository(ws.SessionPath()),
	}

	if err = env.loadProject(); err != nil {
		return nil, err
	}

	return env, nil
}

func (e *environment) loadProject() error {
	project, err := config.LoadProjectOrEmpty(e.ws.ProjectConfigPath())
	if err != nil {
		return err
	}

	e.project = project

	return nil
}

// address prefers the explicit address over the stored one.
func (e *environment) address() string {
	if e.opts.Address != "" {
		return e.opts.Address
	}

	return e.project.DeviceIP()
}

// prepare scaffolds the project and fetches the assets.
func (e *environment) prepare(ctx context.Context) error {
	logger.Info(ctx, "Start configuration for Wits")

	if err := scaffold.Prepare(ctx, e.ws); err != nil {
		return err
	}

	// The project config may have been reset.
	if err := e.loadProject(); err != nil {
		return err
	}

	proxy := e.project.ProxyServer()
	if proxy == "" {
		proxy = e.settings.ProxyServer
	}

	fetcher, err := assets.NewFetcher(e.ws, proxy, e.settings.Timeout)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(e.settings.Assets))
	for name := range e.settings.Assets {
		names = append(names, name)
	}

	slices.Sort(names)

	bundles := make([]assets.Asset, 0, len(names))
	for _, name := range names {
		bundles = append(bundles, assets.Asset{Name: name, URL: e.settings.Assets[name]})
	}

	return fetcher.FetchAll(ctx, bundles)
}

// ask collects the answers and stores them in the project config.
func (e *environment) ask(ctx context.Context) (wits.UserAnswers, error) {
	asker := e.opts.Asker
	if asker == nil {
		asker = prompt.AskAnswers
	}

	answers, deviceIP, err := asker(ctx, e.project.Answers(), e.address())
	if err != nil {
		return wits.UserAnswers{}, err
	}

	e.project.Remember(answers, deviceIP)

	if err = config.SaveProject(e.ws.ProjectConfigPath(), e.project); err != nil {
		return wits.UserAnswers{}, err
	}

	logger.InfoKV(ctx, "Answers saved", "path", e.ws.ProjectConfigPath())

	return answers, nil
}

// connect resolves the device for address and stores the session.
func (e *environment) connect(ctx context.Context, address string) (wits.DeviceInfo, error) {
	bridge := e.opts.Bridge
	if bridge == nil {
		bridge = device.NewCommandBridge(e.settings.ResolveBridgePath(e.ws.Tools()))
	}

	chooser := e.opts.Chooser
	if chooser == nil && e.opts.Interactive {
		chooser = prompt.DeviceChooser{}
	}

	deviceSession := device.NewSession(e.ws, bridge, chooser, e.settings.ConnectPort)

	info, err := deviceSession.Connect(ctx, address)
	if err != nil {
		return wits.DeviceInfo{}, err
	}

	if e.opts.TrustWait > 0 {
		e.waitTrust(ctx, deviceSession)
	}

	record := &session.Record{Device: info, Address: address, ConnectedAt: time.Now().UTC()}
	if err = e.sessions.Save(ctx, record); err != nil {
		return wits.DeviceInfo{}, err
	}

	logger.InfoKV(ctx, "Device resolved", "device", info.DeviceName, "install_path", info.AppInstallPath)

	return info, nil
}

// waitTrust gives the certificate push a bounded chance to finish so its
// output is logged before a short-lived command exits.
func (e *environment) waitTrust(ctx context.Context, deviceSession *device.Session) {
	waitCtx, cancel := context.WithTimeout(ctx, e.opts.TrustWait)
	defer cancel()

	if err := deviceSession.WaitTrust(waitCtx); err != nil {
		logger.WarnKV(ctx, "Certificate push still running", "waited", e.opts.TrustWait)

		return
	}

	logger.DebugKV(ctx, "Certificate push finished", "trusted", deviceSession.Trusted())
}

// device returns the stored device, reconnecting when none is stored or
// the address changed.
func (e *environment) device(ctx context.Context) (wits.DeviceInfo, error) {
	address := e.address()

	record, err := e.sessions.Load(ctx)

	switch {
	case err == nil && record.Address == address:
		logger.DebugKV(ctx, "Using stored device", "device", record.Device.DeviceName)

		return record.Device, nil
	case err != nil && !errors.Is(err, session.ErrNotFound):
		logger.WarnKV(ctx, "Stored device is unreadable, reconnecting", "error", err)
	}

	return e.connect(ctx, address)
}

// build transforms the manifest, renders the templates and packages the container.
func (e *environment) build(ctx context.Context, answers wits.UserAnswers, info wits.DeviceInfo) (*packager.Result, error) {
	transformed, err := manifest.NewTransformer(e.ws).Transform(ctx, answers.BaseAppPath)
	if err != nil {
		return nil, err
	}

	injector := template.NewInjector(e.ws)

	contentSrc := manifest.ContentSource(ctx, answers.BaseAppPath)
	if err = injector.InjectScript(ctx, answers, info, transformed.AppID, contentSrc); err != nil {
		return nil, err
	}

	if err = injector.InjectDocument(ctx, answers); err != nil {
		return nil, err
	}

	signer, err := e.signer()
	if err != nil {
		return nil, err
	}

	builder, err := packager.NewBuilder(e.ws, signer, e.settings.PackageName)
	if err != nil {
		return nil, err
	}

	return builder.Build(ctx, answers.ProfilePath)
}

func (e *environment) signer() (signing.Signer, error) {
	if e.opts.Signer != nil {
		return e.opts.Signer, nil
	}

	if e.settings.Signer.Mode == config.SignerModeCommand {
		return signing.NewCommandSigner(e.ws, e.settings.Signer.Command)
	}

	return signing.NewProfileSigner(e.ws), nil
}

func requireAnswers(answers wits.UserAnswers) error {
	if answers.BaseAppPath == "" || answers.HostIP == "" || answers.ProfilePath == "" {
		return errIncompleteAnswers
	}

	return nil
}
