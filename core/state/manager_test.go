package state

import (
	"math/big"
	"testing"

	"dusd/crypto"
	"dusd/storage"
)

func makeAddress(prefix byte, suffix byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[0] = prefix
	raw[crypto.AddressLength-1] = suffix
	return crypto.NewAddress(crypto.DUSDPrefix, raw)
}

func TestManagerStagesUntilCommit(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	addr := makeAddress(0x01, 0x01)

	if err := mgr.SetDebtBalance(addr, big.NewInt(500)); err != nil {
		t.Fatalf("set debt: %v", err)
	}

	fresh := NewManager(db)
	debt, err := fresh.DebtBalance(addr)
	if err != nil {
		t.Fatalf("read debt: %v", err)
	}
	if debt.Sign() != 0 {
		t.Fatalf("staged write leaked to database: %s", debt)
	}

	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	debt, err = fresh.DebtBalance(addr)
	if err != nil {
		t.Fatalf("read debt after commit: %v", err)
	}
	if debt.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("committed debt = %s, want 500", debt)
	}
	if mgr.Pending() != 0 {
		t.Fatalf("commit left %d staged writes", mgr.Pending())
	}
}

func TestManagerCopyIsolation(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	addr := makeAddress(0x02, 0x02)

	if err := mgr.SetCollateralBalance(addr, "weth", big.NewInt(10)); err != nil {
		t.Fatalf("set collateral: %v", err)
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	staged := mgr.Copy()
	if err := staged.SetCollateralBalance(addr, "weth", big.NewInt(4)); err != nil {
		t.Fatalf("set collateral on copy: %v", err)
	}
	staged.Reset()

	balance, err := mgr.CollateralBalance(addr, "WETH")
	if err != nil {
		t.Fatalf("read collateral: %v", err)
	}
	if balance.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("original balance changed by discarded copy: %s", balance)
	}
}

func TestManagerReadsThroughStagedWrites(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	addr := makeAddress(0x03, 0x03)

	if err := mgr.SetSyntheticBalance(addr, big.NewInt(77)); err != nil {
		t.Fatalf("set balance: %v", err)
	}
	got, err := mgr.SyntheticBalance(addr)
	if err != nil {
		t.Fatalf("read balance: %v", err)
	}
	if got.Cmp(big.NewInt(77)) != 0 {
		t.Fatalf("staged read = %s, want 77", got)
	}
}

func TestManagerAmountValidation(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	addr := makeAddress(0x04, 0x04)

	if err := mgr.SetDebtBalance(addr, nil); err == nil {
		t.Fatalf("expected nil amount to fail")
	}
	if err := mgr.SetDebtBalance(addr, big.NewInt(-1)); err == nil {
		t.Fatalf("expected negative amount to fail")
	}
	tooBig := new(big.Int).Lsh(big.NewInt(1), 256)
	if err := mgr.SetDebtBalance(addr, tooBig); err == nil {
		t.Fatalf("expected 2^256 to overflow")
	}

	if err := mgr.SetDebtBalance(addr, big.NewInt(0)); err != nil {
		t.Fatalf("zero amount rejected: %v", err)
	}
	debt, err := mgr.DebtBalance(addr)
	if err != nil {
		t.Fatalf("read zero debt: %v", err)
	}
	if debt.Sign() != 0 {
		t.Fatalf("zero round trip = %s", debt)
	}
}

func TestAssetRegistryWriteOnce(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	entries := []AssetEntry{
		{Symbol: " weth ", FeedID: "eth-usd"},
		{Symbol: "wbtc", FeedID: "btc-usd"},
	}
	if err := mgr.WriteAssetRegistry(entries); err != nil {
		t.Fatalf("write registry: %v", err)
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	stored, err := mgr.AssetRegistry()
	if err != nil {
		t.Fatalf("read registry: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("registry length = %d, want 2", len(stored))
	}
	if stored[0].Symbol != "WETH" || stored[0].FeedID != "eth-usd" {
		t.Fatalf("unexpected first entry: %+v", stored[0])
	}
	if stored[1].Symbol != "WBTC" {
		t.Fatalf("registry order not preserved: %+v", stored[1])
	}

	err = mgr.WriteAssetRegistry([]AssetEntry{{Symbol: "LINK", FeedID: "link-usd"}})
	if err == nil {
		t.Fatalf("expected rewrite to fail")
	}
}

func TestAssetRegistryRejectsDuplicates(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	err := mgr.WriteAssetRegistry([]AssetEntry{
		{Symbol: "WETH", FeedID: "eth-usd"},
		{Symbol: "weth", FeedID: "eth-usd-2"},
	})
	if err == nil {
		t.Fatalf("expected duplicate symbol to fail")
	}
}

func TestSyntheticTokenMintBurn(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	vault := crypto.ModuleAddress("vault")
	token := NewSyntheticToken(mgr, vault)
	user := makeAddress(0x05, 0x05)

	ok, err := token.Mint(user, big.NewInt(100))
	if err != nil || !ok {
		t.Fatalf("mint: ok=%v err=%v", ok, err)
	}
	supply, err := token.TotalSupply()
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if supply.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("supply = %s, want 100", supply)
	}

	ok, err = token.TransferFrom(user, vault, big.NewInt(40))
	if err != nil || !ok {
		t.Fatalf("transfer to custody: ok=%v err=%v", ok, err)
	}
	if err := token.Burn(big.NewInt(40)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	supply, _ = token.TotalSupply()
	if supply.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("supply after burn = %s, want 60", supply)
	}

	if err := token.Burn(big.NewInt(1)); err == nil {
		t.Fatalf("expected burn beyond custody holdings to fail")
	}
}

func TestSyntheticTransferInsufficient(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	token := NewSyntheticToken(mgr, crypto.ModuleAddress("vault"))
	a := makeAddress(0x06, 0x06)
	b := makeAddress(0x07, 0x07)

	ok, err := token.TransferFrom(a, b, big.NewInt(5))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if ok {
		t.Fatalf("transfer from empty balance must report false")
	}
}

func TestCollateralBankTransfers(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	custody := crypto.ModuleAddress("vault")
	bank := NewCollateralBank(mgr, custody)
	user := makeAddress(0x08, 0x08)

	if err := mgr.SetAssetBalance(user, "WETH", big.NewInt(25)); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	ok, err := bank.TransferFrom("WETH", user, custody, big.NewInt(10))
	if err != nil || !ok {
		t.Fatalf("deposit transfer: ok=%v err=%v", ok, err)
	}
	held, err := bank.BalanceOf(custody, "WETH")
	if err != nil {
		t.Fatalf("custody balance: %v", err)
	}
	if held.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("custody = %s, want 10", held)
	}

	ok, err = bank.Transfer("WETH", user, big.NewInt(10))
	if err != nil || !ok {
		t.Fatalf("redeem transfer: ok=%v err=%v", ok, err)
	}

	ok, err = bank.Transfer("WETH", user, big.NewInt(1))
	if err != nil {
		t.Fatalf("overdraw transfer: %v", err)
	}
	if ok {
		t.Fatalf("overdraw from custody must report false")
	}
}
