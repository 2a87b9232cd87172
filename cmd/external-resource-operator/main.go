/*
Copyright 2025.

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
	"crypto/tls"
	"flag"
	"os"
	"time"

	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/metrics/filters"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	cloudv1alpha1 "github.com/numtide/external-resource-operator/api/v1alpha1"
	cacheinstancecontroller "github.com/numtide/external-resource-operator/pkg/controller/cacheinstance"
	"github.com/numtide/external-resource-operator/pkg/lateinit"
	"github.com/numtide/external-resource-operator/pkg/provider"
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(cloudv1alpha1.AddToScheme(scheme))
	// +kubebuilder:scaffold:scheme
}

func main() {
	var metricsAddr string
	var enableLeaderElection bool
	var probeAddr string
	var secureMetrics bool
	var enableHTTP2 bool
	var tlsOpts []func(*tls.Config)

	// Late-initialization flags
	var lateInitConfigPath string
	var lateInitStrict bool
	var lateInitBaseDelay time.Duration
	var lateInitMaxDelay time.Duration

	// General Flags
	flag.StringVar(&metricsAddr, "metrics-bind-address", "0", "The address the metrics endpoint binds to.")
	flag.StringVar(&probeAddr, "health-probe-bind-address", ":8081", "The address the probe endpoint binds to.")
	flag.BoolVar(&enableLeaderElection, "leader-elect", false, "Enable leader election for controller manager.")
	flag.BoolVar(&secureMetrics, "metrics-secure", true, "If set, the metrics endpoint is served securely via HTTPS.")
	flag.BoolVar(&enableHTTP2, "enable-http2", false, "If set, HTTP/2 will be enabled for the metrics servers")

	// Late-initialization Flag Configuration
	flag.StringVar(&lateInitConfigPath, "late-init-config", "",
		"Path to the late-initialization rules file. Empty uses the built-in defaults.")
	flag.BoolVar(&lateInitStrict, "late-init-strict", true,
		"Treat duplicate field rules in the late-initialization config as errors")
	flag.DurationVar(&lateInitBaseDelay, "late-init-base-delay", 5*time.Second,
		"Initial requeue delay while waiting for provider-assigned defaults")
	flag.DurationVar(&lateInitMaxDelay, "late-init-max-delay", 5*time.Minute,
		"Cap on the requeue delay while waiting for provider-assigned defaults")

	opts := zap.Options{Development: true}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	disableHTTP2 := func(c *tls.Config) {
		setupLog.Info("disabling http/2")
		c.NextProtos = []string{"http/1.1"}
	}
	if !enableHTTP2 {
		tlsOpts = append(tlsOpts, disableHTTP2)
	}

	metricsServerOptions := metricsserver.Options{
		BindAddress:   metricsAddr,
		SecureServing: secureMetrics,
		TLSOpts:       tlsOpts,
	}

	if secureMetrics {
		metricsServerOptions.FilterProvider = filters.WithAuthenticationAndAuthorization
	}

	// 1. Compile the late-initialization rules
	hooks := lateinit.NewHookRegistry()
	cacheinstancecontroller.RegisterLateInitHooks(hooks)

	loadOpts := lateinit.LoadOptions{Hooks: hooks, Strict: lateInitStrict}
	var rules *lateinit.Registry
	var err error
	if lateInitConfigPath != "" {
		rules, err = lateinit.LoadFile(lateInitConfigPath, loadOpts)
	} else {
		setupLog.Info("no late-init config given; using built-in defaults")
		rules, err = lateinit.Compile(cacheinstancecontroller.DefaultLateInitConfig(), loadOpts)
	}
	if err != nil {
		setupLog.Error(err, "invalid late-initialization config")
		os.Exit(1)
	}

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsServerOptions,
		HealthProbeBindAddress: probeAddr,
		LeaderElection:         enableLeaderElection,
		LeaderElectionID:       "external-resource-operator.numtide.com",
	})
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		os.Exit(1)
	}

	// 2. Initialize Provider & Controller
	// TODO: add a real provider backend selected by flag once one exists;
	// the in-memory fake keeps the operator runnable end to end until then.
	extProvider := provider.NewFake()

	if err = (&cacheinstancecontroller.CacheInstanceReconciler{
		Client:   mgr.GetClient(),
		Scheme:   mgr.GetScheme(),
		Recorder: mgr.GetEventRecorderFor("cacheinstance-controller"),
		Provider: extProvider,
		Rules:    rules,
		Tracker: &lateinit.Tracker{
			BaseDelay: lateInitBaseDelay,
			MaxDelay:  lateInitMaxDelay,
		},
	}).SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "CacheInstance")
		os.Exit(1)
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		os.Exit(1)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		os.Exit(1)
	}

	setupLog.Info("starting manager")
	if err := mgr.Start(ctrl.SetupSignalHandler()); err != nil {
		setupLog.Error(err, "problem running manager")
		os.Exit(1)
	}
}
