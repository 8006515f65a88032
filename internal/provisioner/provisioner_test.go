package provisioner

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
)

type fakeDriver struct {
	name        string
	createErr   error
	clearErr    error
	createCalls int
	clearCalls  int
}

func (d *fakeDriver) Name() string { return d.name }

func (d *fakeDriver) CreateQueueResource(ctx context.Context, spec ResourceSpec) (Handle, error) {
	d.createCalls++
	if d.createErr != nil {
		return Handle{}, d.createErr
	}
	return Handle{Driver: d.name, VHost: spec.VHost, Username: Username(spec.Role, spec.UnitCode, spec.Code), QueueName: spec.Code}, nil
}

func (d *fakeDriver) ClearQueueResource(ctx context.Context, handle Handle) error {
	d.clearCalls++
	return d.clearErr
}

type fakeNotifier struct {
	notified int
}

func (n *fakeNotifier) NotifyCompensation(ctx context.Context, driver string, handle Handle, cause error) {
	n.notified++
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestProvision_Success(t *testing.T) {
	driver := &fakeDriver{name: "amqp"}
	p := New(driver, nil, testLogger())

	handle, err := p.Provision(context.Background(), ResourceSpec{Role: RoleULData, Kind: KindApplication, UnitCode: "u1", Code: "a1"})
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if handle.QueueName != "a1" || handle.Driver != "amqp" {
		t.Errorf("handle = %+v", handle)
	}
	if driver.createCalls != 1 {
		t.Errorf("createCalls = %d, want 1", driver.createCalls)
	}
}

func TestProvision_DriverErrorWrapped(t *testing.T) {
	wantErr := errors.New("broker unreachable")
	driver := &fakeDriver{name: "amqp", createErr: wantErr}
	p := New(driver, nil, testLogger())

	_, err := p.Provision(context.Background(), ResourceSpec{Role: RoleULData, Kind: KindApplication, UnitCode: "u1", Code: "a1"})
	if !errors.Is(err, wantErr) {
		t.Fatalf("error = %v, want to wrap %v", err, wantErr)
	}
}

func TestDeprovision_NotifiesOnCompensation(t *testing.T) {
	driver := &fakeDriver{name: "amqp"}
	notifier := &fakeNotifier{}
	p := New(driver, notifier, testLogger())

	handle, err := p.Provision(context.Background(), ResourceSpec{Role: RoleULData, Kind: KindApplication, UnitCode: "u1", Code: "a1"})
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	cause := errors.New("routing table insert failed")
	if err := p.Deprovision(context.Background(), handle, cause); err != nil {
		t.Fatalf("Deprovision() error = %v", err)
	}
	if driver.clearCalls != 1 {
		t.Errorf("clearCalls = %d, want 1", driver.clearCalls)
	}
	if notifier.notified != 1 {
		t.Errorf("notified = %d, want 1", notifier.notified)
	}
}

func TestDeprovision_NilNotifierIsSkippedSilently(t *testing.T) {
	driver := &fakeDriver{name: "amqp"}
	p := New(driver, nil, testLogger())

	handle, err := p.Provision(context.Background(), ResourceSpec{Role: RoleULData, Kind: KindApplication, UnitCode: "u1", Code: "a1"})
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if err := p.Deprovision(context.Background(), handle, errors.New("cause")); err != nil {
		t.Fatalf("Deprovision() error = %v", err)
	}
}

func TestDeprovision_ClearErrorPropagates(t *testing.T) {
	wantErr := errors.New("clear failed")
	driver := &fakeDriver{name: "amqp", clearErr: wantErr}
	p := New(driver, nil, testLogger())

	err := p.Deprovision(context.Background(), Handle{Driver: "amqp", Username: "uldata.u1.a1", QueueName: "a1"}, nil)
	if !errors.Is(err, wantErr) {
		t.Fatalf("error = %v, want to wrap %v", err, wantErr)
	}
}

func TestUsername_PublicNetworkDropsUnitSegment(t *testing.T) {
	if got := Username(RoleULData, "u1", "a1"); got != "uldata.u1.a1" {
		t.Errorf("Username() = %q, want uldata.u1.a1", got)
	}
	if got := Username(RoleULData, "", "pub"); got != "uldata.pub" {
		t.Errorf("Username() = %q, want uldata.pub", got)
	}
}

func TestRolesFor_MatchesQueueRoleMatrix(t *testing.T) {
	appRoles := RolesFor(KindApplication)
	if len(appRoles) != 4 {
		t.Fatalf("RolesFor(application) = %v, want 4 roles", appRoles)
	}
	netRoles := RolesFor(KindNetwork)
	if len(netRoles) != 4 {
		t.Fatalf("RolesFor(network) = %v, want 4 roles", netRoles)
	}
	for _, role := range netRoles {
		if role == RoleDLDataResp {
			t.Errorf("dldata-resp has no network permission and should not be in RolesFor(network)")
		}
	}
	for _, role := range appRoles {
		if role == RoleCtrl {
			t.Errorf("ctrl has no application permission and should not be in RolesFor(application)")
		}
	}
}

func TestProvisionAll_CompensatesOnPartialFailure(t *testing.T) {
	driver := &fakeDriver{name: "amqp", createErr: nil}
	p := New(driver, nil, testLogger())

	// Force the second role's create to fail by wiring a driver whose
	// CreateQueueResource errors on a specific role.
	failing := &roleFailingDriver{name: "amqp", failRole: RoleDLData}
	p2 := New(failing, nil, testLogger())

	_, err := p2.ProvisionAll(context.Background(), KindApplication, "u1", "a1", "u1", "amqp://rabbit:5672", Policies{}, func(QueueRole) Credentials {
		return Credentials{Password: "secret"}
	})
	if err == nil {
		t.Fatal("ProvisionAll() error = nil, want failure on dldata role")
	}
	if failing.clearCalls == 0 {
		t.Error("ProvisionAll() did not compensate already-created roles on partial failure")
	}
	_ = driver
}

type roleFailingDriver struct {
	name       string
	failRole   QueueRole
	clearCalls int
}

func (d *roleFailingDriver) Name() string { return d.name }

func (d *roleFailingDriver) CreateQueueResource(ctx context.Context, spec ResourceSpec) (Handle, error) {
	if spec.Role == d.failRole {
		return Handle{}, errors.New("broker rejected role")
	}
	return Handle{Driver: d.name, VHost: spec.VHost, Username: Username(spec.Role, spec.UnitCode, spec.Code), QueueName: spec.Code}, nil
}

func (d *roleFailingDriver) ClearQueueResource(ctx context.Context, handle Handle) error {
	d.clearCalls++
	return nil
}
