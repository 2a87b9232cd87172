package cacheinstance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	"k8s.io/utils/ptr"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	cloudv1alpha1 "github.com/numtide/external-resource-operator/api/v1alpha1"
	"github.com/numtide/external-resource-operator/pkg/lateinit"
	"github.com/numtide/external-resource-operator/pkg/provider"
	"github.com/numtide/external-resource-operator/pkg/testutil"
	"github.com/numtide/external-resource-operator/pkg/util/annotations"
	"github.com/numtide/external-resource-operator/pkg/util/status"
)

func testScheme(t *testing.T) *runtime.Scheme {
	t.Helper()
	scheme := runtime.NewScheme()
	if err := cloudv1alpha1.AddToScheme(scheme); err != nil {
		t.Fatalf("failed to build scheme: %v", err)
	}
	return scheme
}

func testRules(t *testing.T) *lateinit.Registry {
	t.Helper()
	hooks := lateinit.NewHookRegistry()
	RegisterLateInitHooks(hooks)
	rules, err := lateinit.Compile(DefaultLateInitConfig(), lateinit.LoadOptions{Hooks: hooks, Strict: true})
	if err != nil {
		t.Fatalf("failed to compile rules: %v", err)
	}
	return rules
}

func newTestReconciler(
	t *testing.T,
	prov provider.Provider,
	objs ...client.Object,
) (*CacheInstanceReconciler, client.Client, *record.FakeRecorder) {
	t.Helper()

	scheme := testScheme(t)
	cl := fake.NewClientBuilder().
		WithScheme(scheme).
		WithObjects(objs...).
		WithStatusSubresource(&cloudv1alpha1.CacheInstance{}).
		Build()
	recorder := record.NewFakeRecorder(32)

	r := &CacheInstanceReconciler{
		Client:   cl,
		Scheme:   scheme,
		Recorder: recorder,
		Provider: prov,
		Rules:    testRules(t),
		Tracker:  &lateinit.Tracker{BaseDelay: time.Second, MaxDelay: time.Minute, Factor: 2},
	}
	return r, cl, recorder
}

func newCacheInstance(mutate ...func(*cloudv1alpha1.CacheInstance)) *cloudv1alpha1.CacheInstance {
	inst := &cloudv1alpha1.CacheInstance{
		ObjectMeta: metav1.ObjectMeta{Name: "cache-a", Namespace: "default"},
		Spec: cloudv1alpha1.CacheInstanceSpec{
			Engine:         "redis",
			InstanceClass:  "cache.small",
			TimeoutSeconds: ptr.To(int64(45)),
			Parameters:     map[string]string{"maxmemory-policy": "noeviction"},
		},
	}
	for _, m := range mutate {
		m(inst)
	}
	return inst
}

func reconcileOnce(t *testing.T, r *CacheInstanceReconciler, inst *cloudv1alpha1.CacheInstance) ctrl.Result {
	t.Helper()
	res, err := r.Reconcile(context.Background(), ctrl.Request{
		NamespacedName: types.NamespacedName{Name: inst.Name, Namespace: inst.Namespace},
	})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	return res
}

func getInstance(t *testing.T, cl client.Client, inst *cloudv1alpha1.CacheInstance) *cloudv1alpha1.CacheInstance {
	t.Helper()
	got := &cloudv1alpha1.CacheInstance{}
	if err := cl.Get(context.Background(), client.ObjectKeyFromObject(inst), got); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	return got
}

func drainEvents(rec *record.FakeRecorder) []string {
	var events []string
	for {
		select {
		case e := <-rec.Events:
			events = append(events, e)
		default:
			return events
		}
	}
}

func hasEvent(events []string, reason string) bool {
	for _, e := range events {
		if strings.Contains(e, reason) {
			return true
		}
	}
	return false
}

// TestReconcileLifecycle walks one instance from creation to Ready: create
// with synchronous defaults, pending passes while asynchronous defaults
// provision, then the settling pass that clears the marker.
func TestReconcileLifecycle(t *testing.T) {
	t.Parallel()

	prov := provider.NewFake()
	prov.AsyncDelayReads = 1
	prov.AsyncDefaults["parameters[appendonly]"] = "no"

	inst := newCacheInstance()
	r, cl, recorder := newTestReconciler(t, prov, inst)

	// Pass 1: the finalizer is added, nothing else happens.
	if res := reconcileOnce(t, r, inst); res.RequeueAfter != 0 {
		t.Fatalf("finalizer pass requeued after %v, want none", res.RequeueAfter)
	}
	got := getInstance(t, cl, inst)
	if len(got.Finalizers) != 1 || got.Finalizers[0] != finalizerName {
		t.Fatalf("finalizers = %v, want %q", got.Finalizers, finalizerName)
	}
	if got.Status.ProviderID != "" {
		t.Fatal("external resource created during the finalizer pass")
	}

	// Pass 2: the external resource is created. Synchronous defaults merge
	// immediately; the async ones are outstanding, so the pass goes pending.
	res := reconcileOnce(t, r, inst)
	if res.RequeueAfter != time.Second {
		t.Errorf("pending pass requeue = %v, want the 1s base delay", res.RequeueAfter)
	}

	got = getInstance(t, cl, inst)
	if got.Status.ProviderID == "" {
		t.Fatal("ProviderID not persisted")
	}
	if got.Status.Endpoint == "" {
		t.Error("Endpoint not persisted")
	}
	if got.Status.Phase != cloudv1alpha1.PhasePending {
		t.Errorf("phase = %q, want Pending", got.Status.Phase)
	}
	if !annotations.IsLateInitPending(got) {
		t.Error("pending marker not persisted")
	}
	if got.Spec.EngineVersion != "7.2" {
		t.Errorf("engineVersion = %q, want the create default merged", got.Spec.EngineVersion)
	}
	if got.Spec.NodeCount == nil || *got.Spec.NodeCount != 1 {
		t.Errorf("nodeCount = %v, want the create default 1", got.Spec.NodeCount)
	}
	if got.Spec.TimeoutSeconds == nil || *got.Spec.TimeoutSeconds != 45 {
		t.Errorf("timeoutSeconds = %v, want the user's 45 preserved", got.Spec.TimeoutSeconds)
	}
	if got.Spec.MaintenanceWindow != "" {
		t.Errorf("maintenanceWindow = %q, want empty before the async defaults land", got.Spec.MaintenanceWindow)
	}

	events := drainEvents(recorder)
	if !hasEvent(events, "Created") {
		t.Errorf("events %v missing Created", events)
	}
	if !hasEvent(events, "LateInitPending") {
		t.Errorf("events %v missing LateInitPending", events)
	}

	// Pass 3: the first read still lacks the async defaults; the backoff grows.
	res = reconcileOnce(t, r, inst)
	if res.RequeueAfter != 2*time.Second {
		t.Errorf("second pending pass requeue = %v, want 2s", res.RequeueAfter)
	}
	got = getInstance(t, cl, inst)
	if got.Status.Phase != cloudv1alpha1.PhasePending {
		t.Errorf("phase = %q, want still Pending", got.Status.Phase)
	}

	// Pass 4: the async defaults are observable now; the resource settles.
	res = reconcileOnce(t, r, inst)
	if res.RequeueAfter != 0 {
		t.Errorf("settled pass requeue = %v, want none", res.RequeueAfter)
	}

	got = getInstance(t, cl, inst)
	if got.Status.Phase != cloudv1alpha1.PhaseReady {
		t.Errorf("phase = %q, want Ready", got.Status.Phase)
	}
	if annotations.IsLateInitPending(got) {
		t.Error("pending marker not cleared")
	}
	if got.Spec.MaintenanceWindow != "sun:05:00-sun:06:00" {
		t.Errorf("maintenanceWindow = %q, want the async default merged", got.Spec.MaintenanceWindow)
	}
	if got.Spec.Backup.RetentionDays == nil || *got.Spec.Backup.RetentionDays != 7 {
		t.Errorf("backup.retentionDays = %v, want 7", got.Spec.Backup.RetentionDays)
	}
	if got.Spec.Backup.Window != "03:00-04:00" {
		t.Errorf("backup.window = %q, want the async default merged", got.Spec.Backup.Window)
	}
	if got.Spec.Parameters["maxmemory-policy"] != "noeviction" {
		t.Errorf("parameters[maxmemory-policy] = %q, want the user's value preserved",
			got.Spec.Parameters["maxmemory-policy"])
	}
	if got.Spec.Parameters["appendonly"] != "no" {
		t.Errorf("parameters[appendonly] = %q, want the provider default merged per key",
			got.Spec.Parameters["appendonly"])
	}

	cond := findCondition(got.Status.Conditions, status.ConditionReady)
	if cond == nil || cond.Status != metav1.ConditionTrue {
		t.Errorf("Ready condition = %+v, want True", cond)
	}

	if !hasEvent(drainEvents(recorder), "LateInitComplete") {
		t.Error("LateInitComplete event missing")
	}

	// Pass 5: the settling spec write bumped the generation, so this pass
	// still writes observedGeneration. After that: steady state, no writes.
	reconcileOnce(t, r, inst)
	got = getInstance(t, cl, inst)
	if got.Status.ObservedGeneration != got.Generation {
		t.Errorf("observedGeneration = %d, want caught up to generation %d",
			got.Status.ObservedGeneration, got.Generation)
	}

	beforeRV := got.ResourceVersion
	if res := reconcileOnce(t, r, inst); res.RequeueAfter != 0 {
		t.Errorf("steady-state requeue = %v, want none", res.RequeueAfter)
	}
	if after := getInstance(t, cl, inst); after.ResourceVersion != beforeRV {
		t.Error("steady-state pass wrote the object")
	}
}

func findCondition(conds []metav1.Condition, typ string) *metav1.Condition {
	for i := range conds {
		if conds[i].Type == typ {
			return &conds[i]
		}
	}
	return nil
}

// TestReconcileRecreatesVanishedResource covers the provider losing the
// resource: the stale identity is forgotten and the next pass recreates.
func TestReconcileRecreatesVanishedResource(t *testing.T) {
	t.Parallel()

	prov := provider.NewFake()
	inst := newCacheInstance(func(i *cloudv1alpha1.CacheInstance) {
		i.Finalizers = []string{finalizerName}
		i.Status.ProviderID = "ci-000099"
		i.Status.Endpoint = "ci-000099.cache.internal:6379"
		i.Status.Phase = cloudv1alpha1.PhaseReady
	})
	r, cl, _ := newTestReconciler(t, prov, inst)

	reconcileOnce(t, r, inst)
	got := getInstance(t, cl, inst)
	if got.Status.ProviderID != "" {
		t.Errorf("ProviderID = %q, want the stale identity forgotten", got.Status.ProviderID)
	}
	if got.Status.Phase != cloudv1alpha1.PhaseProvisioning {
		t.Errorf("phase = %q, want Provisioning", got.Status.Phase)
	}

	reconcileOnce(t, r, inst)
	got = getInstance(t, cl, inst)
	if got.Status.ProviderID == "" {
		t.Error("resource not recreated on the following pass")
	}
}

// TestReconcileCorrectsDrift verifies that a user-declared field that drifted
// on the provider side is pushed back.
func TestReconcileCorrectsDrift(t *testing.T) {
	t.Parallel()

	prov := provider.NewFake()
	created, err := prov.Create(context.Background(), provider.CreateRequest{
		Name: "cache-a",
		Spec: map[string]any{
			"engine":        "redis",
			"instanceClass": "cache.small",
			"parameters":    map[string]any{"maxmemory-policy": "noeviction"},
		},
	})
	if err != nil {
		t.Fatalf("seeding provider failed: %v", err)
	}
	// Drift the instance class out from under the declared spec.
	if _, err := prov.Update(context.Background(), created.ID, map[string]any{
		"instanceClass": "cache.large",
	}); err != nil {
		t.Fatalf("seeding drift failed: %v", err)
	}

	inst := newCacheInstance(func(i *cloudv1alpha1.CacheInstance) {
		i.Finalizers = []string{finalizerName}
		i.Spec.TimeoutSeconds = nil
		i.Status.ProviderID = created.ID
	})
	r, _, recorder := newTestReconciler(t, prov, inst)

	reconcileOnce(t, r, inst)

	view, err := prov.Read(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got := view.Spec["instanceClass"]; got != "cache.small" {
		t.Errorf("provider instanceClass = %v, want the drift corrected", got)
	}
	if !hasEvent(drainEvents(recorder), "Updated") {
		t.Error("Updated event missing")
	}
}

// brokenReadProvider returns a fixed read observation; all other operations
// are never expected.
type brokenReadProvider struct {
	spec map[string]any
}

func (p *brokenReadProvider) Create(context.Context, provider.CreateRequest) (*provider.Instance, error) {
	return nil, errors.New("unexpected create")
}

func (p *brokenReadProvider) Read(_ context.Context, id string) (*provider.Instance, error) {
	return &provider.Instance{ID: id, Endpoint: "x:6379", Spec: p.spec}, nil
}

func (p *brokenReadProvider) Update(context.Context, string, map[string]any) (*provider.Instance, error) {
	return nil, errors.New("unexpected update")
}

func (p *brokenReadProvider) Delete(context.Context, string) error {
	return errors.New("unexpected delete")
}

// TestReconcileFatalMergeNotPersisted feeds an observation whose value does
// not fit the declared field type. The pass must fail and the stored record
// must stay untouched.
func TestReconcileFatalMergeNotPersisted(t *testing.T) {
	t.Parallel()

	prov := &brokenReadProvider{spec: map[string]any{
		"engine":        "redis",
		"instanceClass": "cache.small",
		"backup":        map[string]any{"retentionDays": "seven"},
	}}

	inst := newCacheInstance(func(i *cloudv1alpha1.CacheInstance) {
		i.Finalizers = []string{finalizerName}
		i.Spec.TimeoutSeconds = nil
		i.Spec.Parameters = nil
		i.Status.ProviderID = "ci-000001"
	})
	r, cl, recorder := newTestReconciler(t, prov, inst)

	_, err := r.Reconcile(context.Background(), ctrl.Request{
		NamespacedName: types.NamespacedName{Name: inst.Name, Namespace: inst.Namespace},
	})
	if !errors.Is(err, lateinit.ErrMergeFailed) {
		t.Fatalf("Reconcile error = %v, want ErrMergeFailed in chain", err)
	}

	got := getInstance(t, cl, inst)
	if got.Spec.Backup.RetentionDays != nil {
		t.Error("tentatively merged field was persisted")
	}
	if annotations.IsLateInitPending(got) {
		t.Error("pending marker persisted on a fatal pass")
	}
	if !hasEvent(drainEvents(recorder), "MergeFailed") {
		t.Error("MergeFailed event missing")
	}
}

// corruptCreateProvider mangles a field in the create output so the merge of
// that output fails; the stored instance stays intact.
type corruptCreateProvider struct {
	*provider.Fake
	creates int
}

func (p *corruptCreateProvider) Create(ctx context.Context, req provider.CreateRequest) (*provider.Instance, error) {
	p.creates++
	inst, err := p.Fake.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	inst.Spec["nodeCount"] = "one"
	return inst, nil
}

// TestReconcileCreateIdentitySurvivesFatalMerge covers a fatal merge on the
// create output: the provider-assigned identity must already be persisted, so
// the retry reads the existing resource instead of creating a duplicate.
func TestReconcileCreateIdentitySurvivesFatalMerge(t *testing.T) {
	t.Parallel()

	prov := &corruptCreateProvider{Fake: provider.NewFake()}
	inst := newCacheInstance(func(i *cloudv1alpha1.CacheInstance) {
		i.Finalizers = []string{finalizerName}
	})
	r, cl, recorder := newTestReconciler(t, prov, inst)

	_, err := r.Reconcile(context.Background(), ctrl.Request{
		NamespacedName: types.NamespacedName{Name: inst.Name, Namespace: inst.Namespace},
	})
	if !errors.Is(err, lateinit.ErrMergeFailed) {
		t.Fatalf("Reconcile error = %v, want ErrMergeFailed in chain", err)
	}

	got := getInstance(t, cl, inst)
	if got.Status.ProviderID == "" {
		t.Fatal("provider identity lost on the fatal pass")
	}
	if got.Spec.NodeCount != nil {
		t.Error("tentatively merged spec persisted")
	}
	if !hasEvent(drainEvents(recorder), "MergeFailed") {
		t.Error("MergeFailed event missing")
	}

	// The retry sees the persisted identity and reads; the untainted stored
	// record settles the resource without a second external create.
	reconcileOnce(t, r, inst)
	if prov.creates != 1 {
		t.Errorf("external creates = %d, want the persisted identity reused", prov.creates)
	}

	after := getInstance(t, cl, inst)
	if after.Status.ProviderID != got.Status.ProviderID {
		t.Errorf("ProviderID = %q, want %q kept across the retry",
			after.Status.ProviderID, got.Status.ProviderID)
	}
	if after.Status.Phase != cloudv1alpha1.PhaseReady {
		t.Errorf("phase = %q, want Ready after the clean retry", after.Status.Phase)
	}
}

// TestReconcileStatusWriteFailure verifies that a failed status write fails
// the pass before the spec write happens.
func TestReconcileStatusWriteFailure(t *testing.T) {
	t.Parallel()

	prov := provider.NewFake()
	inst := newCacheInstance(func(i *cloudv1alpha1.CacheInstance) {
		i.Finalizers = []string{finalizerName}
	})

	scheme := testScheme(t)
	base := fake.NewClientBuilder().
		WithScheme(scheme).
		WithObjects(inst).
		WithStatusSubresource(&cloudv1alpha1.CacheInstance{}).
		Build()
	cl := testutil.NewFakeClientWithFailures(base, &testutil.FailureConfig{
		OnStatusUpdate: func(client.Object) error {
			return fmt.Errorf("status write rejected")
		},
	})

	r := &CacheInstanceReconciler{
		Client:   cl,
		Scheme:   scheme,
		Recorder: record.NewFakeRecorder(32),
		Provider: prov,
		Rules:    testRules(t),
		Tracker:  &lateinit.Tracker{},
	}

	_, err := r.Reconcile(context.Background(), ctrl.Request{
		NamespacedName: types.NamespacedName{Name: inst.Name, Namespace: inst.Namespace},
	})
	if err == nil || !strings.Contains(err.Error(), "status write rejected") {
		t.Fatalf("Reconcile error = %v, want the injected status failure", err)
	}

	got := getInstance(t, base, inst)
	if got.Spec.EngineVersion != "" {
		t.Error("spec written despite the failed status write")
	}
}

// TestReconcileDeletion verifies the finalizer flow releases the external
// resource before the object goes away.
func TestReconcileDeletion(t *testing.T) {
	t.Parallel()

	prov := provider.NewFake()
	created, err := prov.Create(context.Background(), provider.CreateRequest{Name: "cache-a"})
	if err != nil {
		t.Fatalf("seeding provider failed: %v", err)
	}

	now := metav1.Now()
	inst := newCacheInstance(func(i *cloudv1alpha1.CacheInstance) {
		i.Finalizers = []string{finalizerName}
		i.DeletionTimestamp = &now
		i.Status.ProviderID = created.ID
	})
	r, cl, recorder := newTestReconciler(t, prov, inst)

	reconcileOnce(t, r, inst)

	if _, err := prov.Read(context.Background(), created.ID); !errors.Is(err, provider.ErrNotFound) {
		t.Errorf("provider Read error = %v, want the external resource deleted", err)
	}
	err = cl.Get(context.Background(), client.ObjectKeyFromObject(inst), &cloudv1alpha1.CacheInstance{})
	if !apierrors.IsNotFound(err) {
		t.Errorf("Get error = %v, want the object gone after finalizer removal", err)
	}
	if !hasEvent(drainEvents(recorder), "Deleted") {
		t.Error("Deleted event missing")
	}
}

// Deleting an instance whose external resource is already gone must still
// release the finalizer.
func TestReconcileDeletionAlreadyGone(t *testing.T) {
	t.Parallel()

	now := metav1.Now()
	inst := newCacheInstance(func(i *cloudv1alpha1.CacheInstance) {
		i.Finalizers = []string{finalizerName}
		i.DeletionTimestamp = &now
		i.Status.ProviderID = "ci-000042"
	})
	r, cl, _ := newTestReconciler(t, provider.NewFake(), inst)

	reconcileOnce(t, r, inst)

	err := cl.Get(context.Background(), client.ObjectKeyFromObject(inst), &cloudv1alpha1.CacheInstance{})
	if !apierrors.IsNotFound(err) {
		t.Errorf("Get error = %v, want the object gone", err)
	}
}

// TestReconcileMissingObject must be a clean no-op.
func TestReconcileMissingObject(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestReconciler(t, provider.NewFake())
	res, err := r.Reconcile(context.Background(), ctrl.Request{
		NamespacedName: types.NamespacedName{Name: "nope", Namespace: "default"},
	})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if res.RequeueAfter != 0 {
		t.Errorf("requeue = %v, want none", res.RequeueAfter)
	}
}
