package keys

import (
	"errors"
	"testing"

	"xdao.co/routeplane/model"
)

func TestKeyStore_InitDeriveExportList(t *testing.T) {
	ks, err := CreateKeyStore(t.TempDir())
	if err != nil {
		t.Fatalf("CreateKeyStore: %v", err)
	}
	rootAddr, _, err := ks.InitializeRootKey("ops", rootSeed(), false)
	if err != nil {
		t.Fatalf("InitializeRootKey: %v", err)
	}
	if rootAddr != AddressFromSeed(rootSeed()) {
		t.Fatalf("root address mismatch")
	}
	if _, _, err := ks.InitializeRootKey("ops", rootSeed(), false); !errors.Is(err, ErrKeyExists) {
		t.Fatalf("expected ErrKeyExists, got %v", err)
	}
	if _, _, err := ks.InitializeRootKey("ops", rootSeed(), true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	committer, _, err := ks.DeriveKeyFromRole("ops", "committer", false)
	if err != nil {
		t.Fatalf("DeriveKeyFromRole: %v", err)
	}
	seed, err := ks.LoadSeed("", "ops", "committer", "")
	if err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}
	if AddressFromSeed(seed) != committer {
		t.Fatalf("loaded role seed does not match derived address")
	}
	if _, _, err := ks.DeriveKeyFromRole("ops", "auditor", false); err == nil {
		t.Fatalf("expected unknown role to be rejected")
	}

	exported, err := ks.ExportKey("ops", "committer")
	if err != nil || exported != PublicKeyStringFromSeed(seed) {
		t.Fatalf("ExportKey: %q, %v", exported, err)
	}

	list, err := ks.ListKeys()
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(list) != 1 || list[0].Identifier != "ops" || list[0].Address != rootAddr {
		t.Fatalf("ListKeys: %+v", list)
	}
	if len(list[0].Roles) != 1 || list[0].Roles[0] != (RoleKey{Role: "committer", Address: committer}) {
		t.Fatalf("ListKeys roles: %+v", list[0].Roles)
	}
}

func TestKeyStore_Grants(t *testing.T) {
	ks, _ := CreateKeyStore(t.TempDir())
	if _, _, err := ks.InitializeRootKey("ops", rootSeed(), false); err != nil {
		t.Fatalf("InitializeRootKey: %v", err)
	}
	want := map[model.Address]model.Role{}
	for _, role := range []string{"applier", "emergency"} {
		addr, _, err := ks.DeriveKeyFromRole("ops", role, false)
		if err != nil {
			t.Fatalf("derive %s: %v", role, err)
		}
		r, _ := model.ParseRole(role)
		want[addr] = r
	}
	got, err := ks.Grants("ops")
	if err != nil {
		t.Fatalf("Grants: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("Grants: got %v want %v", got, want)
	}
	for a, r := range want {
		if got[a] != r {
			t.Fatalf("grant for %s: got %s want %s", a, got[a], r)
		}
	}

	if _, err := ks.Grants("nobody"); err == nil {
		t.Fatalf("expected error for missing operator")
	}
}
