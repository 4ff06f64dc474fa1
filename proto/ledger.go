// Package proto 定義 ledger.v1.LedgerService 的訊息與 gRPC 服務描述
//
// 訊息以 JSON codec (content-subtype "json") 傳輸，
// 客戶端請使用 NewLedgerServiceClient，它會自動帶上 codec 的 CallOption。
package proto

// Account 帳戶資料
type Account struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	DisplayName string `json:"display_name"`
	Balance     int64  `json:"balance"`
	// CreatedAt RFC3339Nano (UTC)
	CreatedAt string `json:"created_at"`
}

type OpenAccountRequest struct {
	OwnerID        string `json:"owner_id"`
	DisplayName    string `json:"display_name"`
	InitialBalance int64  `json:"initial_balance"`
}

type GetAccountRequest struct {
	AccountID string `json:"account_id"`
}

type AccountResponse struct {
	Account *Account `json:"account"`
}

// CreditRequest 存款
// NoWait 為 true 時帳戶鎖被佔用會立刻回傳 Aborted
type CreditRequest struct {
	AccountID string `json:"account_id"`
	Amount    int64  `json:"amount"`
	NoWait    bool   `json:"no_wait"`
}

// DebitRequest 提款
type DebitRequest struct {
	AccountID string `json:"account_id"`
	Amount    int64  `json:"amount"`
	NoWait    bool   `json:"no_wait"`
}

type GetBalanceRequest struct {
	AccountID string `json:"account_id"`
}

type BalanceResponse struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
}

type TransferRequest struct {
	FromAccountID string `json:"from_account_id"`
	ToAccountID   string `json:"to_account_id"`
	Amount        int64  `json:"amount"`
	NoWait        bool   `json:"no_wait"`
}

// TransferResponse 轉帳後兩邊的餘額 (盡力而為，讀取失敗時為 0)
type TransferResponse struct {
	FromBalance int64 `json:"from_balance"`
	ToBalance   int64 `json:"to_balance"`
}

type ListAccountsRequest struct {
	OwnerID string `json:"owner_id"`
}

type ListAccountsResponse struct {
	Accounts []*Account `json:"accounts"`
}
