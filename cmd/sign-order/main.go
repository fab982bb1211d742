// sign-order is a developer utility that generates a stark key,
// builds a spot-swap order intent, signs it, and verifies the result —
// the client-side half of spec.md §4.A's signature contract, kept as
// a standalone binary the way the teacher's cmd/sign-order did for
// its EIP-712 orders.
package main

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"

	"github.com/starkdex/engine/pkg/field"
)

// orderIntent is the payload a client signs before submitting a spot
// order (spec.md §4.D "Spot swap"): the order hash folds the order id,
// both tokens, both amounts and the fee limit; the destination address
// and blinding are not part of the hash.
type orderIntent struct {
	OrderID            uint64 `json:"order_id"`
	TokenSpent         uint32 `json:"token_spent"`
	TokenReceived      uint32 `json:"token_received"`
	AmountSpent        uint64 `json:"amount_spent"`
	AmountReceived     uint64 `json:"amount_received"`
	FeeLimit           uint64 `json:"fee_limit"`
	DestReceivedAddrX  string `json:"dest_received_address_x"`
	DestReceivedAddrY  string `json:"dest_received_address_y"`
	DestReceivedBlind  string `json:"dest_received_blinding"`
}

func orderHash(o orderIntent) field.Element {
	return field.HashMany(
		field.FromUint64(o.OrderID),
		field.FromUint64(uint64(o.TokenSpent)),
		field.FromUint64(uint64(o.TokenReceived)),
		field.FromUint64(o.AmountSpent),
		field.FromUint64(o.AmountReceived),
		field.FromUint64(o.FeeLimit),
	)
}

func main() {
	fmt.Println("Generating stark key...")

	privBytes := make([]byte, 32)
	if _, err := rand.Read(privBytes); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	priv := field.FromBytes(privBytes)

	pub, err := field.PointFromPrivateKey(priv)
	if err != nil {
		fmt.Printf("Error deriving public key: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Stark key (public point): (%s, %s)\n\n", pub.X.String(), pub.Y.String())

	order := orderIntent{
		OrderID:           1,
		TokenSpent:        54321,
		TokenReceived:      12345,
		AmountSpent:       1_000_000,
		AmountReceived:    950_000,
		FeeLimit:          1_000,
		DestReceivedAddrX: pub.X.String(),
		DestReceivedAddrY: pub.Y.String(),
		DestReceivedBlind: "7",
	}

	fmt.Println("Order details:")
	fmt.Printf("  order_id: %d\n", order.OrderID)
	fmt.Printf("  token_spent -> token_received: %d -> %d\n", order.TokenSpent, order.TokenReceived)
	fmt.Printf("  amount_spent -> amount_received: %d -> %d\n\n", order.AmountSpent, order.AmountReceived)

	hash := orderHash(order)
	sig, err := field.Sign(priv, hash)
	if err != nil {
		fmt.Printf("Error signing: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Signature: r=%s s=%s\n\n", sig.R.String(), sig.S.String())

	payload, err := json.MarshalIndent(struct {
		Order     orderIntent     `json:"order"`
		Signature field.Signature `json:"signature"`
	}{order, sig}, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling JSON: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Signed order (JSON):")
	fmt.Println(string(payload))
	fmt.Println()

	fmt.Println("Verifying signature...")
	if !field.Verify(pub, hash, sig) {
		fmt.Println("✗ Signature INVALID")
		os.Exit(1)
	}
	fmt.Println("✓ Signature VALID")

	fmt.Println("\nThe engine's RPC server has no order-submission route;")
	fmt.Println("  its /api/v1 methods are operator-only (finalize_batch, update_index_price, restore_orderbook).")
}
