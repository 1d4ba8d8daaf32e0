/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/apptrail-sh/deployer/internal/artifact"
	"github.com/apptrail-sh/deployer/internal/builder"
	"github.com/apptrail-sh/deployer/internal/buildinfo"
	"github.com/apptrail-sh/deployer/internal/engine"
	"github.com/apptrail-sh/deployer/internal/hooks"
	"github.com/apptrail-sh/deployer/internal/hooks/pubsub"
	"github.com/apptrail-sh/deployer/internal/hooks/webhook"
	"github.com/apptrail-sh/deployer/internal/model"
	"github.com/apptrail-sh/deployer/internal/pipeline"
	"github.com/apptrail-sh/deployer/internal/reconcile"
	"github.com/apptrail-sh/deployer/internal/revision"
	"github.com/apptrail-sh/deployer/internal/secret"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	// to ensure that the deploy stage can authenticate against managed clusters.
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/clientcmd"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

// kubeconfigCredentialName is the store name of the deployment credential.
const kubeconfigCredentialName = "kubeconfig"

// config holds all command-line configuration
type config struct {
	runID              string
	repo               string
	branch             string
	contextDir         string
	buildCommand       string
	sourceDir          string
	apiKeySecret       string
	engineBinary       string
	registry           string
	pushEnabled        bool
	deployEnabled      bool
	branchFilter       string
	manifestPath       string
	serviceManifest    string
	targetName         string
	targetNamespace    string
	placeholder        string
	requireConvergence bool
	publishBestEffort  bool
	secretsDir         string
	webhookURL         string
	pubsubTopic        string
	metricsAddr        string
	runTimeout         time.Duration
	buildTimeout       time.Duration
	publishTimeout     time.Duration
	deployTimeout      time.Duration
	rolloutTimeout     time.Duration
}

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
}

func main() {
	cfg := parseFlags()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&zap.Options{Development: true})))

	ctx := ctrl.SetupSignalHandler()
	if cfg.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.runTimeout)
		defer cancel()
	}

	startMetricsServer(cfg)

	store := setupStore(cfg)
	scope := secret.NewScope(store)
	runner := engine.NewExecRunner()

	eng := engine.New(engine.Config{
		Binary:   cfg.engineBinary,
		Registry: cfg.registry,
	}, runner)

	notifiers, stopNotifiers := setupNotifiers(ctx, cfg)
	defer stopNotifiers()

	target := loadTarget(cfg)
	controller := pipeline.NewController(
		pipelineConfig(cfg),
		target,
		pipeline.Collaborators{
			Resolver:   setupResolver(cfg),
			AppBuilder: setupAppBuilder(cfg, scope, runner),
			Publisher:  artifact.NewPublisher(eng, scope),
			Reconciler: setupReconciler(ctx, cfg, scope),
			Notifiers:  notifiers,
		},
	)

	if cfg.pushEnabled {
		// Closes any registry session left by an interrupted publish stage.
		controller.RegisterCleanup(func(ctx context.Context) {
			eng.Logout(ctx)
		})
	}

	run := controller.Run(ctx)
	if run.FinalResult != model.RunResultSuccess {
		os.Exit(1)
	}
}

func parseFlags() config {
	var cfg config

	flag.StringVar(&cfg.runID, "run-id", os.Getenv("RUN_ID"),
		"Externally assigned run identifier; generated when empty")
	flag.StringVar(&cfg.repo, "repo", os.Getenv("IMAGE_REPO"),
		"Artifact repository the image tag is derived from (e.g. registry.example.com/team/app)")
	flag.StringVar(&cfg.branch, "branch", firstEnv("GIT_BRANCH", "BRANCH"),
		"Branch or ref being built; defaults to 'local' in the tag when empty")
	flag.StringVar(&cfg.contextDir, "context-dir", ".",
		"Container build context directory")
	flag.StringVar(&cfg.buildCommand, "build-command", os.Getenv("BUILD_COMMAND"),
		"Application build command run before the image build (e.g. 'npm run build'); empty disables the step")
	flag.StringVar(&cfg.sourceDir, "source-dir", ".",
		"Directory the application build command runs in")
	flag.StringVar(&cfg.apiKeySecret, "api-key-secret", "",
		"Credential name materialized into the build env file for the application build")
	flag.StringVar(&cfg.engineBinary, "engine", "docker",
		"Container engine CLI binary")
	flag.StringVar(&cfg.registry, "registry", os.Getenv("IMAGE_REGISTRY"),
		"Registry host for login/logout; engine default when empty")
	flag.BoolVar(&cfg.pushEnabled, "push", false,
		"Enable the publish stage")
	flag.BoolVar(&cfg.deployEnabled, "deploy", false,
		"Enable the deploy stage")
	flag.StringVar(&cfg.branchFilter, "branch-filter", "",
		"Glob pattern gating publish and deploy to matching branches (e.g. 'main' or 'release-*')")
	flag.StringVar(&cfg.manifestPath, "manifest", "",
		"Workload manifest template containing the image placeholder")
	flag.StringVar(&cfg.serviceManifest, "service-manifest", "",
		"Optional service manifest created alongside a materialized workload")
	flag.StringVar(&cfg.targetName, "target-name", "",
		"Deployment target name")
	flag.StringVar(&cfg.targetNamespace, "target-namespace", "default",
		"Deployment target namespace")
	flag.StringVar(&cfg.placeholder, "image-placeholder", reconcile.DefaultPlaceholder,
		"Placeholder marker substituted with the image reference in the manifest template")
	flag.BoolVar(&cfg.requireConvergence, "require-convergence", false,
		"Fail the run when the deployment does not converge within the rollout timeout")
	flag.BoolVar(&cfg.publishBestEffort, "publish-best-effort", false,
		"Treat a publish failure as non-fatal")
	flag.StringVar(&cfg.secretsDir, "secrets-dir", os.Getenv("DEPLOYER_SECRETS_DIR"),
		"Directory holding one credential file per name; environment variables are consulted as fallback")
	flag.StringVar(&cfg.webhookURL, "webhook-url", os.Getenv("NOTIFY_WEBHOOK_URL"),
		"The URL to send run notifications to")
	flag.StringVar(&cfg.pubsubTopic, "pubsub-topic", os.Getenv("PUBSUB_TOPIC"),
		"Google Cloud Pub/Sub topic path (projects/<project>/topics/<topic>) for run events")
	flag.StringVar(&cfg.metricsAddr, "metrics-bind-address", "",
		"The address the metrics endpoint binds to while the run executes; empty disables it")
	flag.DurationVar(&cfg.runTimeout, "run-timeout", 0,
		"Overall run timeout; 0 disables it")
	flag.DurationVar(&cfg.buildTimeout, "build-timeout", 15*time.Minute,
		"Image build stage timeout")
	flag.DurationVar(&cfg.publishTimeout, "publish-timeout", 10*time.Minute,
		"Publish stage timeout")
	flag.DurationVar(&cfg.deployTimeout, "deploy-timeout", 10*time.Minute,
		"Deploy stage timeout")
	flag.DurationVar(&cfg.rolloutTimeout, "rollout-timeout", 5*time.Minute,
		"Rollout convergence timeout within the deploy stage")

	opts := zap.Options{Development: true}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	return cfg
}

func pipelineConfig(cfg config) pipeline.Config {
	runID := cfg.runID
	if runID == "" {
		runID = uuid.New().String()[:8]
	}

	timeouts := pipeline.DefaultTimeouts()
	timeouts.Build = cfg.buildTimeout
	timeouts.Publish = cfg.publishTimeout
	timeouts.Deploy = cfg.deployTimeout

	return pipeline.Config{
		RunID:      runID,
		Repo:       cfg.repo,
		Branch:     cfg.branch,
		ContextDir: cfg.contextDir,
		Gates: pipeline.GateConfig{
			PushEnabled:   cfg.pushEnabled,
			DeployEnabled: cfg.deployEnabled,
			BranchFilter:  cfg.branchFilter,
		},
		Timeouts:           timeouts,
		Placeholder:        cfg.placeholder,
		RequireConvergence: cfg.requireConvergence,
		PublishBestEffort:  cfg.publishBestEffort,
	}
}

func setupStore(cfg config) secret.Store {
	if cfg.secretsDir != "" {
		return secret.NewChainStore(secret.NewDirStore(cfg.secretsDir), secret.NewEnvStore())
	}
	return secret.NewEnvStore()
}

func setupResolver(cfg config) *revision.Resolver {
	resolverCfg := revision.DefaultConfig()
	resolverCfg.WorkDir = cfg.sourceDir
	resolverCfg.BuildCounter = os.Getenv("BUILD_NUMBER")
	return revision.NewResolver(resolverCfg)
}

func setupAppBuilder(cfg config, scope *secret.Scope, runner engine.Runner) pipeline.AppBuilder {
	if cfg.buildCommand == "" {
		return nil
	}
	builderCfg := builder.DefaultConfig()
	builderCfg.Command = cfg.buildCommand
	builderCfg.SourceDir = cfg.sourceDir
	builderCfg.APIKeySecret = cfg.apiKeySecret
	return builder.New(builderCfg, scope, runner)
}

// setupReconciler builds the deploy-stage reconciler from the kubeconfig
// credential. A missing credential is an ordinary state: the reconciler is
// nil and the deploy gate resolves to skipped.
func setupReconciler(ctx context.Context, cfg config, scope *secret.Scope) pipeline.TargetReconciler {
	if !cfg.deployEnabled {
		return nil
	}

	var reconciler pipeline.TargetReconciler
	err := scope.WithSecret(ctx, kubeconfigCredentialName, func(cred secret.Credential) error {
		restConfig, err := clientcmd.RESTConfigFromKubeConfig(cred.Value)
		if err != nil {
			return err
		}
		cl, err := client.New(restConfig, client.Options{Scheme: scheme})
		if err != nil {
			return err
		}

		reconcileCfg := reconcile.DefaultConfig()
		reconcileCfg.Placeholder = cfg.placeholder
		reconcileCfg.RolloutTimeout = cfg.rolloutTimeout
		reconciler = reconcile.New(cl, reconcileCfg)
		return nil
	})
	if err != nil {
		if secret.IsMissing(err) {
			setupLog.Info("kubeconfig credential unavailable, deploy stage will be skipped")
			return nil
		}
		setupLog.Error(err, "unable to build cluster client from kubeconfig credential")
		os.Exit(1)
	}
	return reconciler
}

// setupNotifiers builds the notification sinks. The returned stop function
// flushes and closes sinks that hold connections.
func setupNotifiers(ctx context.Context, cfg config) ([]hooks.Notifier, func()) {
	var notifiers []hooks.Notifier
	stop := func() {}

	if cfg.webhookURL != "" {
		notifiers = append(notifiers, webhook.NewPublisher(cfg.webhookURL))
		setupLog.Info("webhook notifier enabled", "endpoint", cfg.webhookURL)
	}

	if cfg.pubsubTopic != "" {
		publisher, err := pubsub.NewPublisher(ctx, cfg.pubsubTopic, buildinfo.Version())
		if err != nil {
			setupLog.Error(err, "unable to create Pub/Sub publisher",
				"hint", "Ensure valid credentials via Workload Identity, GOOGLE_APPLICATION_CREDENTIALS, or gcloud auth")
			os.Exit(1)
		}
		notifiers = append(notifiers, publisher)
		stop = publisher.Stop
		setupLog.Info("Google Pub/Sub notifier enabled", "topic", cfg.pubsubTopic)
	}

	if len(notifiers) == 0 {
		setupLog.Info("no notification sinks configured, run status will only be logged")
	}

	return notifiers, stop
}

func loadTarget(cfg config) model.DeploymentTarget {
	target := model.DeploymentTarget{
		Name:      cfg.targetName,
		Namespace: cfg.targetNamespace,
	}

	if cfg.manifestPath != "" {
		data, err := os.ReadFile(cfg.manifestPath)
		if err != nil {
			setupLog.Error(err, "unable to read workload manifest", "path", cfg.manifestPath)
			os.Exit(1)
		}
		target.ManifestTemplate = data
	}
	if cfg.serviceManifest != "" {
		data, err := os.ReadFile(cfg.serviceManifest)
		if err != nil {
			setupLog.Error(err, "unable to read service manifest", "path", cfg.serviceManifest)
			os.Exit(1)
		}
		target.ServiceManifest = data
	}
	return target
}

func startMetricsServer(cfg config) {
	if cfg.metricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(cfg.metricsAddr, mux); err != nil {
			setupLog.Error(err, "metrics endpoint stopped")
		}
	}()
	setupLog.Info("metrics endpoint started", "addr", cfg.metricsAddr)
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
