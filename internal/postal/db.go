package postal

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// KEN_ALL 形式の CSV で使う列（0 始まり）
const (
	colCode = 2
	colPref = 6
	colCity = 7
	colTown = 8
)

// Record は郵便番号データベースの 1 レコード
type Record struct {
	Code string `json:"code"` // 郵便番号
	Pref string `json:"pref"` // 都道府県名
	City string `json:"city"` // 市区町村名
	Town string `json:"town"` // 町域名
}

// DB は郵便番号データベース
// 読み込み後は変更しないので、Search は並行に呼んでよい
type DB struct {
	records []Record
}

// NewDB は空のデータベースを作成する
func NewDB(records ...Record) *DB {
	return &DB{records: records}
}

// LoadFile はファイルからデータベースを読み込む
func LoadFile(path string) (*DB, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open postal database: %w", err)
	}
	defer f.Close()

	db := NewDB()
	n, err := db.Load(f)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("no records in %s", path)
	}
	return db, nil
}

// Load は KEN_ALL 形式の CSV を読み込み、追加したレコード数を返す
// 郵便番号が空の行と列の足りない行は読み飛ばす
func (db *DB) Load(r io.Reader) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	added := 0
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return added, fmt.Errorf("failed to parse postal database: %w", err)
		}
		if len(row) <= colTown {
			continue
		}
		rec := Record{
			Code: trim(row[colCode]),
			Pref: trim(row[colPref]),
			City: trim(row[colCity]),
			Town: trim(row[colTown]),
		}
		if rec.Code == "" {
			continue
		}
		db.records = append(db.records, rec)
		added++
	}
	return added, nil
}

// trim は前後の空白とダブルクォートを取り除く
func trim(s string) string {
	return strings.Trim(s, ` "`)
}

// Len はレコード数を返す
func (db *DB) Len() int {
	return len(db.records)
}

// Search は郵便番号が key に一致するか、都道府県名・市区町村名・町域名の
// いずれかに key を含むレコードを最大 limit 件、ファイル順に返す
// limit が 0 以下なら件数を制限しない
func (db *DB) Search(key string, limit int) []Record {
	var result []Record
	for _, rec := range db.records {
		if limit > 0 && len(result) >= limit {
			break
		}
		if rec.Code == key ||
			strings.Contains(rec.Pref, key) ||
			strings.Contains(rec.City, key) ||
			strings.Contains(rec.Town, key) {
			result = append(result, rec)
		}
	}
	return result
}
