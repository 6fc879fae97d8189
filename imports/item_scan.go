package imports

import "database/sql"

// ItemScanArgs holds the nullable column targets needed when scanning an item
// from a database row.
type ItemScanArgs struct {
	ThreadID   sql.NullString
	ReceivedAt sql.NullTime
	ErrorMsg   sql.NullString
}

// GetItemScanArgs returns an ItemScanArgs struct with all variables ready for scanning
func GetItemScanArgs() *ItemScanArgs {
	return &ItemScanArgs{}
}

// GetItemScanTargets returns scan destinations for the item and its nullable
// columns, in the order produced by StandardItemSelectColumns.
func GetItemScanTargets(item *Item, args *ItemScanArgs) []interface{} {
	return []interface{}{
		&item.Seq,
		&item.RunID,
		&item.JobID,
		&item.ExternalID,
		&args.ThreadID,
		&args.ReceivedAt,
		&item.Status,
		&item.Step,
		&item.Attempts,
		&args.ErrorMsg,
		&item.CreatedAt,
		&item.UpdatedAt,
	}
}

// ProcessItemScanArgs populates the item from its scanned nullable columns.
func ProcessItemScanArgs(item *Item, args *ItemScanArgs) {
	if args.ThreadID.Valid {
		item.ThreadID = args.ThreadID.String
	}
	if args.ReceivedAt.Valid {
		item.ReceivedAt = &args.ReceivedAt.Time
	}
	if args.ErrorMsg.Valid {
		item.Error = args.ErrorMsg.String
	}
}

// ScanItemFromRow scans a single item from a sql.Row
func ScanItemFromRow(row *sql.Row, item *Item) error {
	args := GetItemScanArgs()
	if err := row.Scan(GetItemScanTargets(item, args)...); err != nil {
		return err
	}
	ProcessItemScanArgs(item, args)
	return nil
}

// ScanItemFromRows scans a single item from sql.Rows (for use in loops)
func ScanItemFromRows(rows *sql.Rows, item *Item) error {
	args := GetItemScanArgs()
	if err := rows.Scan(GetItemScanTargets(item, args)...); err != nil {
		return err
	}
	ProcessItemScanArgs(item, args)
	return nil
}

// StandardItemSelectColumns returns the standard column list for item SELECT queries
func StandardItemSelectColumns() string {
	return `seq, run_id, job_id, external_id, thread_id, received_at,
		status, step, attempts, error, created_at, updated_at`
}
