package session

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dbcrust/dbcrust/internal/backend"
	"github.com/dbcrust/dbcrust/internal/backend/fileengine"
	"github.com/dbcrust/dbcrust/internal/backenderr"
	"github.com/dbcrust/dbcrust/internal/namedquery"
	"github.com/dbcrust/dbcrust/internal/render"
)

// Handler implements one backslash command's body; args is everything
// after the command name, unparsed.
type Handler func(ctx context.Context, r *REPL, args string) error

type commandEntry struct {
	handler Handler
	help    string
}

// dispatcher is the backslash-command table, built once as a package-level
// map exactly the way a root command assembles its Cobra tree with one
// AddCommand call per subcommand.
var dispatcher = map[string]commandEntry{
	"q":           {handleQuit, "Exit REPL"},
	"l":           {handleListDatabases, "List databases on active backend"},
	"c":           {handleConnect, "Switch database or reconnect to a different URL"},
	"dt":          {handleListTables, "List tables/collections/indices for active backend"},
	"d":           {handleDescribe, "Describe object"},
	"x":           {handleToggleExpanded, "Toggle expanded display"},
	"e":           {handleToggleExplain, "Toggle EXPLAIN mode"},
	"ed":          {handleEditBuffer, "Open current buffer in external editor"},
	"i":           {handleReadFile, "Read file, execute as SQL"},
	"w":           {handleWriteFile, "Write last SQL to file"},
	"ns":          {handleNamedQueryDefine, "Define named query"},
	"n":           {handleNamedQueryList, "List named queries with scope indicators"},
	"nd":          {handleNamedQueryDelete, "Delete named query"},
	"ss":          {handleSessionSave, "Save current connection as session"},
	"s":           {handleSessionList, "List or connect to sessions"},
	"sd":          {handleSessionDelete, "Delete saved session"},
	"r":           {handleRecentList, "List recent connections"},
	"rc":          {handleRecentClear, "Clear recent connections"},
	"cs":          {handleColumnSelectToggle, "Toggle forced column selection"},
	"csthreshold": {handleColumnSelectThreshold, "Set column-count threshold for auto-selection"},
	"clrcs":       {handleColumnSelectClear, "Clear remembered column selections"},
	"resetview":   {handleResetView, "Reset all view toggles"},
	"savepass":    {handleSavePass, "Save a password file entry"},
	"listpass":    {handleListPass, "List password file entries"},
	"deletepass":  {handleDeletePass, "Delete a password file entry"},
	"encryptpass": {handleEncryptPass, "Encrypt plaintext password file entries"},
	"vc":          {handleVaultStatus, "Show dynamic credential cache status"},
	"vcc":         {handleVaultClear, "Clear dynamic credential cache"},
	"vcr":         {handleVaultRefresh, "Refresh a dynamic credential"},
	"vce":         {handleVaultExpired, "List expired dynamic credentials"},
	"cdm":         {handleComplexDisplayMode, "Show or set the complex-value display mode"},
	"cdt":         {handleComplexTruncation, "Set complex-value truncation length"},
	"cds":         {handleComplexSizeThreshold, "Set complex-value auto-downgrade size threshold"},
	"cdmeta":      {handleComplexMetadata, "Toggle complex-value metadata display"},
	"cddim":       {handleComplexMaxWidth, "Set complex-value display max width"},
	"config":      {handleConfig, "Show or reload configuration"},
	"register":    {handleRegister, "Register an additional file/glob/directory source on the active file-engine connection"},
}

func (r *REPL) dispatchMeta(ctx context.Context, rest string) error {
	name, args, _ := strings.Cut(rest, " ")
	entry, ok := dispatcher[name]
	if !ok {
		return backenderr.Resolutionf(nil, "unknown meta-command \\%s", name)
	}
	return entry.handler(ctx, r, strings.TrimSpace(args))
}

func handleQuit(ctx context.Context, r *REPL, args string) error {
	r.state = StateTerminating
	return nil
}

func handleListDatabases(ctx context.Context, r *REPL, args string) error {
	if r.adapter == nil {
		return backenderr.Connectionf(nil, "not connected")
	}
	names, err := r.adapter.ListDatabases(ctx)
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Fprintln(r.out, n)
	}
	return nil
}

func handleConnect(ctx context.Context, r *REPL, args string) error {
	if args == "" {
		return backenderr.Configurationf(nil, "\\c requires a database name or connection url")
	}
	if !strings.Contains(args, "://") {
		if r.adapter == nil {
			return backenderr.Connectionf(nil, "not connected")
		}
		return r.adapter.SwitchDatabase(ctx, args)
	}
	return r.Connect(ctx, args)
}

func handleListTables(ctx context.Context, r *REPL, args string) error {
	if r.adapter == nil {
		return backenderr.Connectionf(nil, "not connected")
	}
	tables, err := r.adapter.IntrospectTables(ctx)
	if err != nil {
		return err
	}
	for _, t := range tables {
		fmt.Fprintf(r.out, "%-30s %s\n", t.Name, t.Type)
	}
	return nil
}

func handleDescribe(ctx context.Context, r *REPL, args string) error {
	if r.adapter == nil {
		return backenderr.Connectionf(nil, "not connected")
	}
	if args == "" {
		return backenderr.Configurationf(nil, "\\d requires an object name")
	}
	cols, err := r.adapter.IntrospectColumns(ctx, args)
	if err != nil {
		return err
	}
	printColumnInfo(r, cols, 0)
	return nil
}

func printColumnInfo(r *REPL, cols []backend.ColumnInfo, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, c := range cols {
		nullable := ""
		if c.Nullable {
			nullable = " NULL"
		}
		fmt.Fprintf(r.out, "%s%-30s %s%s\n", indent, c.Name, c.Type, nullable)
		if len(c.Nested) > 0 {
			printColumnInfo(r, c.Nested, depth+1)
		}
	}
}

func handleToggleExpanded(ctx context.Context, r *REPL, args string) error {
	r.toggles.Expanded = !r.toggles.Expanded
	fmt.Fprintf(r.out, "Expanded display is %s.\n", onOff(r.toggles.Expanded))
	return nil
}

func handleToggleExplain(ctx context.Context, r *REPL, args string) error {
	r.toggles.ExplainMode = !r.toggles.ExplainMode
	fmt.Fprintf(r.out, "EXPLAIN mode is %s.\n", onOff(r.toggles.ExplainMode))
	return nil
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func handleEditBuffer(ctx context.Context, r *REPL, args string) error {
	edited, err := openInEditor(r.lastSQL)
	if err != nil {
		return err
	}
	return r.executeAndRender(ctx, edited)
}

func handleReadFile(ctx context.Context, r *REPL, args string) error {
	if args == "" {
		return backenderr.Configurationf(nil, "\\i requires a file path")
	}
	sql, err := readSQLFile(args)
	if err != nil {
		return err
	}
	return r.executeAndRender(ctx, sql)
}

func handleWriteFile(ctx context.Context, r *REPL, args string) error {
	if args == "" {
		return backenderr.Configurationf(nil, "\\w requires a file path")
	}
	return writeSQLFile(args, r.lastSQL)
}

func handleNamedQueryDefine(ctx context.Context, r *REPL, args string) error {
	name, rest, ok := strings.Cut(args, " ")
	if !ok || name == "" || rest == "" {
		return backenderr.Configurationf(nil, "\\ns requires a name and a query body")
	}
	scope := namedquery.ScopeSession
	if strings.HasPrefix(rest, "--global ") {
		scope = namedquery.ScopeGlobal
		rest = strings.TrimPrefix(rest, "--global ")
	} else if strings.HasPrefix(rest, "--backend ") {
		scope = namedquery.ScopeBackend
		rest = strings.TrimPrefix(rest, "--backend ")
	}
	backendKind := ""
	if r.adapter != nil {
		backendKind = string(r.adapter.Kind())
	}
	return r.queries.Define(name, rest, scope, backendKind)
}

func handleNamedQueryList(ctx context.Context, r *REPL, args string) error {
	backendKind := ""
	if r.adapter != nil {
		backendKind = string(r.adapter.Kind())
	}
	for _, q := range r.queries.List(backendKind) {
		fmt.Fprintf(r.out, "%-20s [%s] %s\n", q.Name, q.Scope, q.Body)
	}
	return nil
}

func handleNamedQueryDelete(ctx context.Context, r *REPL, args string) error {
	if args == "" {
		return backenderr.Configurationf(nil, "\\nd requires a query name")
	}
	backendKind := ""
	if r.adapter != nil {
		backendKind = string(r.adapter.Kind())
	}
	if !r.queries.Delete(args, backendKind) {
		return backenderr.Resolutionf(nil, "no named query %q", args)
	}
	return nil
}

func handleSessionSave(ctx context.Context, r *REPL, args string) error {
	if args == "" || r.sessions == nil {
		return backenderr.Configurationf(nil, "\\ss requires a session name")
	}
	return r.sessions.Save(args, r.connInfo.DisplayURL)
}

func handleSessionList(ctx context.Context, r *REPL, args string) error {
	if r.sessions == nil {
		return backenderr.Configurationf(nil, "no session store configured")
	}
	if args == "" {
		names := r.sessions.List()
		ordered := make([]string, 0, len(names))
		for n := range names {
			ordered = append(ordered, n)
		}
		sort.Strings(ordered)
		for _, n := range ordered {
			fmt.Fprintf(r.out, "%-20s %s\n", n, names[n])
		}
		return nil
	}
	url, ok := r.sessions.Lookup(args)
	if !ok {
		return backenderr.Resolutionf(nil, "no saved session named %q", args)
	}
	return r.Connect(ctx, url)
}

func handleSessionDelete(ctx context.Context, r *REPL, args string) error {
	if args == "" || r.sessions == nil {
		return backenderr.Configurationf(nil, "\\sd requires a session name")
	}
	ok, err := r.sessions.Delete(args)
	if err != nil {
		return err
	}
	if !ok {
		return backenderr.Resolutionf(nil, "no saved session named %q", args)
	}
	return nil
}

func handleRecentList(ctx context.Context, r *REPL, args string) error {
	if r.sessions == nil {
		return nil
	}
	for _, c := range r.sessions.Recent() {
		fmt.Fprintf(r.out, "%-40s %s\n", c.URL, c.LastUsed.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func handleRecentClear(ctx context.Context, r *REPL, args string) error {
	if r.sessions == nil {
		return nil
	}
	return r.sessions.ClearRecent()
}

func handleColumnSelectToggle(ctx context.Context, r *REPL, args string) error {
	r.columns.SetForced(!r.columns.Forced())
	fmt.Fprintf(r.out, "Forced column selection is %s.\n", onOff(r.columns.Forced()))
	return nil
}

func handleColumnSelectThreshold(ctx context.Context, r *REPL, args string) error {
	n, err := strconv.Atoi(args)
	if err != nil {
		return backenderr.Configurationf(err, "\\csthreshold requires an integer")
	}
	r.render.ColumnSelectionThreshold = n
	return nil
}

func handleColumnSelectClear(ctx context.Context, r *REPL, args string) error {
	r.columns.Forget()
	return nil
}

func handleResetView(ctx context.Context, r *REPL, args string) error {
	r.toggles = Toggles{}
	r.render = RenderConfigFrom(r.cfg)
	r.columns.Forget()
	return nil
}

func handleSavePass(ctx context.Context, r *REPL, args string) error {
	if r.deps.PassFile == nil {
		return backenderr.Configurationf(nil, "no password file configured")
	}
	fields := strings.Fields(args)
	if len(fields) != 6 {
		return backenderr.Configurationf(nil, "\\savepass requires kind host port database user secret")
	}
	return r.deps.PassFile.Upsert(fields[0], fields[1], fields[2], fields[3], fields[4], fields[5])
}

func handleListPass(ctx context.Context, r *REPL, args string) error {
	if r.deps.PassFile == nil {
		return backenderr.Configurationf(nil, "no password file configured")
	}
	for _, e := range r.deps.PassFile.Entries() {
		fmt.Fprintf(r.out, "%s:%s:%s:%s:%s\n", e.Kind, e.Host, e.Port, e.Database, e.User)
	}
	return nil
}

func handleDeletePass(ctx context.Context, r *REPL, args string) error {
	if r.deps.PassFile == nil {
		return backenderr.Configurationf(nil, "no password file configured")
	}
	fields := strings.Fields(args)
	if len(fields) != 5 {
		return backenderr.Configurationf(nil, "\\deletepass requires kind host port database user")
	}
	ok, err := r.deps.PassFile.Delete(fields[0], fields[1], fields[2], fields[3], fields[4])
	if err != nil {
		return err
	}
	if !ok {
		return backenderr.Resolutionf(nil, "no matching password file entry")
	}
	return nil
}

func handleEncryptPass(ctx context.Context, r *REPL, args string) error {
	if r.deps.PassFile == nil {
		return backenderr.Configurationf(nil, "no password file configured")
	}
	n, err := r.deps.PassFile.EncryptAll()
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "encrypted %d entries\n", n)
	return nil
}

func handleVaultStatus(ctx context.Context, r *REPL, args string) error {
	if r.deps.VaultCache == nil {
		return backenderr.Configurationf(nil, "no vault credential cache configured")
	}
	for _, e := range r.deps.VaultCache.Snapshot() {
		fmt.Fprintf(r.out, "%s/%s user=%s issued=%s ttl=%s\n", e.Mount, e.Role, e.Username, e.IssuedAt.Format("15:04:05"), e.TTL)
	}
	return nil
}

func handleVaultClear(ctx context.Context, r *REPL, args string) error {
	if r.deps.VaultCache == nil {
		return backenderr.Configurationf(nil, "no vault credential cache configured")
	}
	return r.deps.VaultCache.Clear()
}

func handleVaultRefresh(ctx context.Context, r *REPL, args string) error {
	if r.deps.VaultCache == nil {
		return backenderr.Configurationf(nil, "no vault credential cache configured")
	}
	if r.connInfo.DynamicCredential == nil {
		return backenderr.Configurationf(nil, "active connection has no dynamic credential to refresh")
	}
	role := r.connInfo.DynamicCredential.Role
	if args != "" {
		role = args
	}
	_, err := r.deps.VaultCache.Lookup(r.connInfo.DynamicCredential.Mount, role)
	return err
}

func handleVaultExpired(ctx context.Context, r *REPL, args string) error {
	if r.deps.VaultCache == nil {
		return backenderr.Configurationf(nil, "no vault credential cache configured")
	}
	for _, e := range r.deps.VaultCache.Expired() {
		fmt.Fprintf(r.out, "%s/%s user=%s expired\n", e.Mount, e.Role, e.Username)
	}
	return nil
}

func handleComplexDisplayMode(ctx context.Context, r *REPL, args string) error {
	if args == "" {
		fmt.Fprintln(r.out, r.render.ComplexDisplayMode)
		return nil
	}
	r.render.ComplexDisplayMode = render.ComplexMode(args)
	return nil
}

func handleComplexTruncation(ctx context.Context, r *REPL, args string) error {
	n, err := strconv.Atoi(args)
	if err != nil {
		return backenderr.Configurationf(err, "\\cdt requires an integer")
	}
	r.render.TruncationLength = n
	return nil
}

func handleComplexSizeThreshold(ctx context.Context, r *REPL, args string) error {
	n, err := strconv.Atoi(args)
	if err != nil {
		return backenderr.Configurationf(err, "\\cds requires an integer")
	}
	r.render.SizeThreshold = n
	return nil
}

func handleComplexMetadata(ctx context.Context, r *REPL, args string) error {
	r.render.ShowComplexMetadata = !r.render.ShowComplexMetadata
	fmt.Fprintf(r.out, "Complex-value metadata display is %s.\n", onOff(r.render.ShowComplexMetadata))
	return nil
}

func handleComplexMaxWidth(ctx context.Context, r *REPL, args string) error {
	n, err := strconv.Atoi(args)
	if err != nil {
		return backenderr.Configurationf(err, "\\cddim requires an integer")
	}
	r.render.ComplexMaxWidth = n
	return nil
}

func handleRegister(ctx context.Context, r *REPL, args string) error {
	fa, ok := r.adapter.(*fileengine.Adapter)
	if !ok {
		return backenderr.Configurationf(nil, "\\register only applies to a file-engine connection")
	}
	name, path, found := strings.Cut(args, " ")
	if !found || name == "" || path == "" {
		return backenderr.Configurationf(nil, "\\register requires a table name and a path")
	}
	fileengine.Register(fa, name, strings.TrimSpace(path))
	return nil
}

func handleConfig(ctx context.Context, r *REPL, args string) error {
	if args == "reload" {
		cfg, err := reloadConfig()
		if err != nil {
			return err
		}
		r.cfg = cfg
		r.render = RenderConfigFrom(cfg)
		return nil
	}
	fmt.Fprintf(r.out, "%+v\n", r.cfg)
	return nil
}
