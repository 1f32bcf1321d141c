package main

import (
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"dusd/core/events"
	"dusd/storage"
)

// auditRow is one collateral movement from the journal. Deposits carry the
// position owner in Account; redemptions also carry the payout target in
// Recipient (the owner on redeem, the liquidator on seizure).
type auditRow struct {
	Sequence  int64  `parquet:"name=sequence, type=INT64"`
	Type      string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp string `parquet:"name=timestamp, type=BYTE_ARRAY, convertedtype=UTF8"`
	Account   string `parquet:"name=account, type=BYTE_ARRAY, convertedtype=UTF8"`
	Recipient string `parquet:"name=recipient, type=BYTE_ARRAY, convertedtype=UTF8"`
	Asset     string `parquet:"name=asset, type=BYTE_ARRAY, convertedtype=UTF8"`
	Amount    string `parquet:"name=amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	Hash      string `parquet:"name=hash, type=BYTE_ARRAY, convertedtype=UTF8"`
}

type auditReport struct {
	JournalHead     uint64            `json:"journalHead"`
	RecordsScanned  int               `json:"recordsScanned"`
	RecordsExported int               `json:"recordsExported"`
	DepositedTotals map[string]string `json:"depositedByAsset"`
	RedeemedTotals  map[string]string `json:"redeemedByAsset"`
	CSVPath         string            `json:"csvPath"`
	ParquetPath     string            `json:"parquetPath"`
}

func main() {
	dataDir := flag.String("data", "./dusd-data", "Path to the node data directory (node must be stopped)")
	outDir := flag.String("out", ".", "Directory for the exported report files")
	after := flag.Uint64("after", 0, "Export only records with a sequence greater than this cursor")
	limit := flag.Int("limit", 0, "Maximum records to export (0 = all)")
	flag.Parse()

	db, err := storage.NewLevelDB(*dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database at %s: %v\n", *dataDir, err)
		os.Exit(1)
	}
	defer db.Close()

	journal, err := events.NewJournal(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open event journal: %v\n", err)
		os.Exit(1)
	}

	records, err := journal.Range(*after, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read event journal: %v\n", err)
		os.Exit(1)
	}

	report := auditReport{
		JournalHead:     journal.Head(),
		RecordsScanned:  len(records),
		DepositedTotals: make(map[string]string),
		RedeemedTotals:  make(map[string]string),
	}

	deposited := make(map[string]*big.Int)
	redeemed := make(map[string]*big.Int)
	rows := make([]*auditRow, 0, len(records))
	for _, record := range records {
		attrs := record.AttributesMap()
		row := &auditRow{
			Sequence:  int64(record.Sequence),
			Type:      record.Type,
			Timestamp: time.Unix(int64(record.Timestamp), 0).UTC().Format(time.RFC3339),
			Asset:     attrs["asset"],
			Amount:    attrs["amount"],
			Hash:      "0x" + hex.EncodeToString(record.Hash[:]),
		}
		switch record.Type {
		case events.TypeCollateralDeposited:
			row.Account = attrs["account"]
			accumulate(deposited, row.Asset, row.Amount)
		case events.TypeCollateralRedeemed:
			row.Account = attrs["from"]
			row.Recipient = attrs["to"]
			accumulate(redeemed, row.Asset, row.Amount)
		default:
			continue
		}
		rows = append(rows, row)
	}
	report.RecordsExported = len(rows)
	for asset, total := range deposited {
		report.DepositedTotals[asset] = total.String()
	}
	for asset, total := range redeemed {
		report.RedeemedTotals[asset] = total.String()
	}

	if len(rows) > 0 {
		if err := os.MkdirAll(*outDir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "failed to prepare output directory: %v\n", err)
			os.Exit(1)
		}
		report.CSVPath = filepath.Join(*outDir, "collateral_events.csv")
		if err := writeCSV(report.CSVPath, rows); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		report.ParquetPath = filepath.Join(*outDir, "collateral_events.parquet")
		if err := writeParquet(report.ParquetPath, rows); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
	}

	output, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode report: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(output))
}

func accumulate(totals map[string]*big.Int, asset, amount string) {
	value, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return
	}
	if total, exists := totals[asset]; exists {
		total.Add(total, value)
		return
	}
	totals[asset] = value
}

func writeCSV(path string, rows []*auditRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audit: create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	header := []string{"sequence", "type", "timestamp", "account", "recipient", "asset", "amount", "hash"}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("audit: write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			fmt.Sprintf("%d", row.Sequence),
			row.Type,
			row.Timestamp,
			row.Account,
			row.Recipient,
			row.Asset,
			row.Amount,
			row.Hash,
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("audit: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("audit: flush csv: %w", err)
	}
	return nil
}

func writeParquet(path string, rows []*auditRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audit: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(auditRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("audit: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("audit: close parquet file: %w", err)
	}
	return nil
}
