package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"strings"

	"dusd/cmd/internal/passphrase"
)

const rpcTokenEnv = "DUSD_RPC_TOKEN"

var (
	rpcEndpoint = defaultRPCEndpoint() // Defaults to localhost, can be overridden via DUSD_RPC_URL or --rpc flag
	tokenSource = passphrase.NewSource(rpcTokenEnv, "RPC auth token")
)

func main() {
	args := os.Args[1:]
	var err error
	rpcEndpoint = defaultRPCEndpoint()
	args, err = applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(args) < 1 {
		printUsage()
		return
	}

	command := args[0]
	switch command {
	case "deposit":
		if len(args) < 4 {
			fmt.Println("Usage: deposit <from> <asset> <amount>")
			return
		}
		amount, ok := parseAmount(args[3])
		if !ok {
			return
		}
		runMutation("vault_depositCollateral", map[string]string{
			"from": args[1], "asset": args[2], "amount": amount,
		})
	case "mint":
		if len(args) < 3 {
			fmt.Println("Usage: mint <from> <amount>")
			return
		}
		amount, ok := parseAmount(args[2])
		if !ok {
			return
		}
		runMutation("vault_mint", map[string]string{"from": args[1], "amount": amount})
	case "deposit-and-mint":
		if len(args) < 5 {
			fmt.Println("Usage: deposit-and-mint <from> <asset> <collateralAmount> <mintAmount>")
			return
		}
		collateralAmount, ok := parseAmount(args[3])
		if !ok {
			return
		}
		mintAmount, ok := parseAmount(args[4])
		if !ok {
			return
		}
		runMutation("vault_depositAndMint", map[string]string{
			"from":             args[1],
			"asset":            args[2],
			"collateralAmount": collateralAmount,
			"mintAmount":       mintAmount,
		})
	case "redeem":
		if len(args) < 4 {
			fmt.Println("Usage: redeem <from> <asset> <amount>")
			return
		}
		amount, ok := parseAmount(args[3])
		if !ok {
			return
		}
		runMutation("vault_redeemCollateral", map[string]string{
			"from": args[1], "asset": args[2], "amount": amount,
		})
	case "burn":
		if len(args) < 3 {
			fmt.Println("Usage: burn <from> <amount>")
			return
		}
		amount, ok := parseAmount(args[2])
		if !ok {
			return
		}
		runMutation("vault_burn", map[string]string{"from": args[1], "amount": amount})
	case "redeem-for-synth":
		if len(args) < 5 {
			fmt.Println("Usage: redeem-for-synth <from> <asset> <collateralAmount> <burnAmount>")
			return
		}
		collateralAmount, ok := parseAmount(args[3])
		if !ok {
			return
		}
		burnAmount, ok := parseAmount(args[4])
		if !ok {
			return
		}
		runMutation("vault_redeemForSynthetic", map[string]string{
			"from":             args[1],
			"asset":            args[2],
			"collateralAmount": collateralAmount,
			"burnAmount":       burnAmount,
		})
	case "liquidate":
		if len(args) < 5 {
			fmt.Println("Usage: liquidate <from> <asset> <account> <debtToCover>")
			return
		}
		debtToCover, ok := parseAmount(args[4])
		if !ok {
			return
		}
		runMutation("vault_liquidate", map[string]string{
			"from":        args[1],
			"asset":       args[2],
			"account":     args[3],
			"debtToCover": debtToCover,
		})
	case "health":
		if len(args) < 2 {
			fmt.Println("Usage: health <account>")
			return
		}
		runQuery("vault_getHealthFactor", map[string]string{"account": args[1]})
	case "account":
		if len(args) < 2 {
			fmt.Println("Usage: account <account>")
			return
		}
		runQuery("vault_getAccountInformation", map[string]string{"account": args[1]})
	case "collateral":
		if len(args) < 3 {
			fmt.Println("Usage: collateral <account> <asset>")
			return
		}
		runQuery("vault_getCollateralBalance", map[string]string{"account": args[1], "asset": args[2]})
	case "balance":
		if len(args) < 2 {
			fmt.Println("Usage: balance <account>")
			return
		}
		runQuery("vault_getSyntheticBalance", map[string]string{"account": args[1]})
	case "usd-value":
		if len(args) < 3 {
			fmt.Println("Usage: usd-value <asset> <amount>")
			return
		}
		amount, ok := parseAmount(args[2])
		if !ok {
			return
		}
		runQuery("vault_getUsdValue", map[string]string{"asset": args[1], "amount": amount})
	case "token-amount":
		if len(args) < 3 {
			fmt.Println("Usage: token-amount <asset> <usd>")
			return
		}
		usd, ok := parseAmount(args[2])
		if !ok {
			return
		}
		runQuery("vault_getTokenAmountFromUsd", map[string]string{"asset": args[1], "usd": usd})
	case "assets":
		runQuery("vault_getCollateralAssets", nil)
	case "status":
		runQuery("vault_getProtocolStatus", nil)
	case "params":
		runQuery("vault_getParameters", nil)
	case "price":
		if len(args) < 2 {
			fmt.Println("Usage: price <feed>")
			return
		}
		runQuery("oracle_getQuote", map[string]string{"feed": args[1]})
	case "set-price":
		if len(args) < 3 {
			fmt.Println("Usage: set-price <feed> <price> [source]")
			return
		}
		param := map[string]string{"feed": args[1], "price": args[2]}
		if len(args) > 3 {
			param["source"] = args[3]
		}
		runMutation("oracle_setPrice", param)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
	}
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("DUSD_RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

// parseAmount insists on a base-10 integer in 18-decimal base units so a typo
// fails locally instead of as a node-side error.
func parseAmount(value string) (string, bool) {
	trimmed := strings.TrimSpace(value)
	if _, ok := new(big.Int).SetString(trimmed, 10); !ok {
		fmt.Printf("Error: %q is not a base-10 integer amount (18-decimal base units).\n", value)
		return "", false
	}
	return trimmed, true
}

func runMutation(method string, param interface{}) {
	result, err := callRPC(method, param, true)
	if err != nil {
		fmt.Printf("Error calling %s: %v\n", method, err)
		return
	}
	printJSONResult(result)
}

func runQuery(method string, param interface{}) {
	result, err := callRPC(method, param, false)
	if err != nil {
		fmt.Printf("Error calling %s: %v\n", method, err)
		return
	}
	printJSONResult(result)
}

func callRPC(method string, param interface{}, requireAuth bool) (json.RawMessage, error) {
	payload := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if param != nil {
		payload["params"] = []interface{}{param}
	} else {
		payload["params"] = []interface{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	resp, err := doRPCRequest(body, requireAuth)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int             `json:"code"`
			Message string          `json:"message"`
			Data    json.RawMessage `json:"data"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("failed to decode response from node")
	}
	if rpcResp.Error != nil {
		if len(rpcResp.Error.Data) > 0 {
			return nil, fmt.Errorf("error from node: %s (%s)", rpcResp.Error.Message, rpcResp.Error.Data)
		}
		return nil, fmt.Errorf("error from node: %s", rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

func doRPCRequest(payload []byte, requireAuth bool) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if requireAuth {
		token, err := tokenSource.Get()
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", rpcEndpoint, err)
	}
	return resp, nil
}

func printJSONResult(result json.RawMessage) {
	if len(result) == 0 {
		fmt.Println("No result.")
		return
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, result, "", "  "); err != nil {
		fmt.Println(string(result))
		return
	}
	fmt.Println(buf.String())
}

func printUsage() {
	fmt.Println("Usage: dusd-cli [--rpc <url>] <command> [arguments]")
	fmt.Println()
	fmt.Println("Mutating commands authenticate with a bearer token taken from DUSD_RPC_TOKEN")
	fmt.Println("or prompted interactively. Amounts are base-10 integers in 18-decimal base units.")
	fmt.Println("Commands:")
	fmt.Println("  deposit <from> <asset> <amount>                      - Deposit collateral")
	fmt.Println("  mint <from> <amount>                                 - Mint synthetic dollars against collateral")
	fmt.Println("  deposit-and-mint <from> <asset> <collateral> <mint>  - Deposit and mint in one atomic step")
	fmt.Println("  redeem <from> <asset> <amount>                       - Withdraw collateral")
	fmt.Println("  burn <from> <amount>                                 - Retire synthetic debt")
	fmt.Println("  redeem-for-synth <from> <asset> <collateral> <burn>  - Burn then withdraw in one atomic step")
	fmt.Println("  liquidate <from> <asset> <account> <debt>            - Repay an unhealthy account's debt for bonus collateral")
	fmt.Println("  health <account>                                     - Current health factor")
	fmt.Println("  account <account>                                    - Debt, collateral value, health factor")
	fmt.Println("  collateral <account> <asset>                         - Deposited collateral balance")
	fmt.Println("  balance <account>                                    - Synthetic dollar balance")
	fmt.Println("  usd-value <asset> <amount>                           - Oracle valuation of a token amount")
	fmt.Println("  token-amount <asset> <usd>                           - Token amount equal to a USD value")
	fmt.Println("  assets                                               - Registered collateral assets")
	fmt.Println("  status                                               - Protocol-wide supply and collateralization")
	fmt.Println("  params                                               - Engine parameters")
	fmt.Println("  price <feed>                                         - Latest oracle quote")
	fmt.Println("  set-price <feed> <price> [source]                    - Publish a quote to the manual oracle")
}
