package web

const layoutHTML = `{{define "layout"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}} - Outpost</title>
</head>
<body>
<nav>
  <strong>Outpost</strong>
  <a href="/items"{{if eq .Nav "items"}} class="active"{{end}}>Items</a>
  <a href="/items?status=pending"{{if eq .Nav "pending"}} class="active"{{end}}>Pending</a>
  <a href="/items?status=failed"{{if eq .Nav "failed"}} class="active"{{end}}>Failed</a>
  {{with .Profile.ProfileID}}<span class="profile">profile {{.}}</span>{{end}}
</nav>
<main id="content">{{template "content" .}}</main>
<footer>outpost {{.Version}}</footer>
</body>
</html>{{end}}`

const listHTML = `{{define "content"}}
<h1>{{.Title}}</h1>
<p class="counts">{{.Counts.Pending}} pending, {{.Counts.Failed}} failed</p>
<form method="get" action="/items">
  <input name="interaction_id" value="{{.InteractionID}}" placeholder="interaction">
  <input name="account_id" value="{{.AccountID}}" placeholder="wallet">
  <input type="hidden" name="status" value="{{.Status}}">
  <button type="submit">Filter</button>
</form>
{{if .Items}}
<table>
  <thead><tr><th>ID</th><th>Type</th><th>Summary</th><th>Sync</th><th>Status</th><th>Retries</th><th>Created</th></tr></thead>
  <tbody>
  {{range .Items}}
  <tr>
    <td><a href="/items/{{.ID}}">{{shortID .ID}}</a></td>
    <td>{{.Type}}</td>
    <td>{{with message .}}{{.Content}}{{end}}{{with transaction .}}{{formatAmount .}} from {{.FromWalletID}}{{end}}</td>
    <td>{{.SyncStatus}}</td>
    <td>{{.LocalStatus}}</td>
    <td>{{.RetryCount}}</td>
    <td>{{formatMillis .CreatedAt}}</td>
  </tr>
  {{end}}
  </tbody>
</table>
{{else}}
<p class="empty">No items found</p>
{{end}}
{{end}}`

const detailHTML = `{{define "content"}}
{{with .Item}}
<h1>{{.ID}}</h1>
<dl>
  <dt>Type</dt><dd>{{.Type}}</dd>
  <dt>Profile</dt><dd>{{.ProfileID}}</dd>
  <dt>Interaction</dt><dd>{{.InteractionID}}</dd>
  <dt>From</dt><dd>{{.FromEntityID}}</dd>
  {{if hasValue .ToEntityID}}<dt>To</dt><dd>{{deref .ToEntityID}}</dd>{{end}}
  <dt>Sync status</dt><dd>{{.SyncStatus}}</dd>
  <dt>Local status</dt><dd>{{.LocalStatus}}</dd>
  <dt>Retries</dt><dd>{{.RetryCount}}</dd>
  {{if hasValue .LastError}}<dt>Last error</dt><dd class="error">{{deref .LastError}}</dd>{{end}}
  {{if hasValue .NextAttemptAt}}<dt>Next attempt</dt><dd>{{formatMillis (deref .NextAttemptAt)}}</dd>{{end}}
  {{if hasValue .ServerID}}<dt>Server id</dt><dd>{{deref .ServerID}}</dd>{{end}}
  <dt>Created</dt><dd>{{formatMillis .CreatedAt}}</dd>
  <dt>Updated</dt><dd>{{formatMillis .UpdatedAt}}</dd>
  {{with transaction .}}
  <dt>Amount</dt><dd>{{formatAmount .}}</dd>
  <dt>Kind</dt><dd>{{.TransactionType}}</dd>
  <dt>From wallet</dt><dd>{{.FromWalletID}}</dd>
  {{if hasValue .ToWalletID}}<dt>To wallet</dt><dd>{{deref .ToWalletID}}</dd>{{end}}
  {{end}}
</dl>
{{end}}
{{if .RenderedHTML}}<article class="message">{{.RenderedHTML}}</article>{{end}}
{{if .Metadata}}<pre class="metadata">{{.Metadata}}</pre>{{end}}
{{end}}`

const errorHTML = `{{define "content"}}
<h1>Error {{.StatusCode}}</h1>
<p class="error-message">{{.Message}}</p>
{{end}}`
