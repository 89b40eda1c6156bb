package mcp

import "github.com/mark3labs/mcp-go/mcp"

var sendMessageToolDef = mcp.NewTool("timeline_send_message",
	mcp.WithDescription("Queue a chat message in the local outbox. Returns immediately with the local id; delivery happens in the background."),
	mcp.WithString("interaction_id", mcp.Required(), mcp.Description("Conversation the message belongs to")),
	mcp.WithString("profile_id", mcp.Required(), mcp.Description("Active profile id")),
	mcp.WithString("from_entity_id", mcp.Required(), mcp.Description("Sender entity id")),
	mcp.WithString("to_entity_id", mcp.Description("Recipient entity id")),
	mcp.WithString("content", mcp.Required(), mcp.Description("Message text (markdown allowed)")),
	mcp.WithString("message_type", mcp.Description("Message subtype, default \"text\"")),
	mcp.WithObject("metadata", mcp.Description("Opaque caller metadata stored with the item")),
)

var sendTransactionToolDef = mcp.NewTool("timeline_send_transaction",
	mcp.WithDescription("Queue a wallet transfer in the local outbox. Returns immediately with the local id."),
	mcp.WithString("interaction_id", mcp.Required(), mcp.Description("Conversation the transfer belongs to")),
	mcp.WithString("profile_id", mcp.Required(), mcp.Description("Active profile id")),
	mcp.WithString("from_entity_id", mcp.Required(), mcp.Description("Payer entity id")),
	mcp.WithString("to_entity_id", mcp.Required(), mcp.Description("Payee entity id")),
	mcp.WithNumber("amount", mcp.Required(), mcp.Description("Amount, greater than 0")),
	mcp.WithString("from_wallet_id", mcp.Required(), mcp.Description("Source wallet")),
	mcp.WithString("to_wallet_id", mcp.Description("Destination wallet")),
	mcp.WithString("currency_id", mcp.Description("Currency id")),
	mcp.WithString("currency_code", mcp.Description("ISO currency code")),
	mcp.WithString("currency_symbol", mcp.Description("Display symbol")),
	mcp.WithString("transaction_type", mcp.Description("Transaction subtype, default \"transfer\"")),
	mcp.WithObject("metadata", mcp.Description("Opaque caller metadata stored with the item")),
)

var retryToolDef = mcp.NewTool("timeline_retry",
	mcp.WithDescription("Re-queue an item that is still waiting on the server. Synced and cancelled items are left alone."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Local item id")),
	mcp.WithString("profile_id", mcp.Required(), mcp.Description("Active profile that owns the item")),
)

var cancelToolDef = mcp.NewTool("timeline_cancel",
	mcp.WithDescription("Cancel an item that has not been acknowledged by the server."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Local item id")),
	mcp.WithString("profile_id", mcp.Required(), mcp.Description("Active profile that owns the item")),
)

var fetchToolDef = mcp.NewTool("timeline_fetch",
	mcp.WithDescription("Fetch one outbox item by local id."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Local item id")),
	mcp.WithString("profile_id", mcp.Required(), mcp.Description("Active profile that owns the item")),
)

var countsToolDef = mcp.NewTool("timeline_counts",
	mcp.WithDescription("Count pending and failed items for a profile."),
	mcp.WithString("profile_id", mcp.Required(), mcp.Description("Profile id")),
)

var recentToolDef = mcp.NewTool("timeline_recent",
	mcp.WithDescription("List items for a profile: recent transactions by default, one wallet's transactions with account_id, one conversation with interaction_id, or pending/failed items with status."),
	mcp.WithString("profile_id", mcp.Required(), mcp.Description("Profile id")),
	mcp.WithString("account_id", mcp.Description("Filter transactions by wallet")),
	mcp.WithString("interaction_id", mcp.Description("Return one conversation's timeline")),
	mcp.WithString("status", mcp.Description("pending or failed"), mcp.Enum("pending", "failed")),
	mcp.WithNumber("limit", mcp.Description("Max items (default 20, max 200)")),
)

var profileSwitchToolDef = mcp.NewTool("profile_switch",
	mcp.WithDescription("Switch the active profile. In-flight sync calls and confirmation polls for the old profile are cancelled."),
	mcp.WithString("profile_id", mcp.Required(), mcp.Description("Target profile id")),
	mcp.WithString("entity_id", mcp.Description("Target entity id")),
	mcp.WithString("profile_type", mcp.Description("personal or business"), mcp.Enum("personal", "business")),
)

var profileCurrentToolDef = mcp.NewTool("profile_current",
	mcp.WithDescription("Show the active profile, switch state and sync statistics."),
)

var pollStartToolDef = mcp.NewTool("poll_start",
	mcp.WithDescription("Start a short confirmation burst for a transaction."),
	mcp.WithString("transaction_id", mcp.Required(), mcp.Description("Transaction id")),
	mcp.WithString("interaction_id", mcp.Description("Conversation to refresh alongside transactions")),
)

var pollStopToolDef = mcp.NewTool("poll_stop",
	mcp.WithDescription("Stop a confirmation burst, or every burst with all=true."),
	mcp.WithString("transaction_id", mcp.Description("Transaction id")),
	mcp.WithBoolean("all", mcp.Description("Stop every active burst")),
)
