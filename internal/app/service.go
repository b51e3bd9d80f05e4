package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"prooflab/api/internal/auth"
	"prooflab/api/internal/authpw"
	"prooflab/api/internal/blob"
	"prooflab/api/internal/config"
	"prooflab/api/internal/email"
	"prooflab/api/internal/export"
	"prooflab/api/internal/expr"
	"prooflab/api/internal/gitrepo"
	"prooflab/api/internal/proof"
	"prooflab/api/internal/proofjson"
	"prooflab/api/internal/rbac"
	"prooflab/api/internal/rulecheck"
	"prooflab/api/internal/search"
	"prooflab/api/internal/store"
	"prooflab/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// EditInput is one edit operation against a proof's working copy. Lines
// are addressed by their current derived number; a subproof is addressed
// by the number of its first line.
type EditInput struct {
	Op       string `json:"op"`
	Line     int    `json:"line,omitempty"`
	Anchor   int    `json:"anchor,omitempty"`
	After    bool   `json:"after,omitempty"`
	Dep      int    `json:"dep,omitempty"`
	Subproof int    `json:"subproof,omitempty"`
	Text     string `json:"text,omitempty"`
	Rule     string `json:"rule,omitempty"`
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	ListUsersByRole(context.Context, string) ([]store.User, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	ListProofs(context.Context, string) ([]store.ProofDoc, error)
	GetProof(context.Context, string) (store.ProofDoc, error)
	InsertProof(context.Context, store.ProofDoc) error
	UpdateProofState(context.Context, string, string, string, string, string) error
	DeleteProof(context.Context, string) (bool, error)
	CreateSubmission(context.Context, store.Submission) error
	GetSubmission(context.Context, string) (store.Submission, error)
	ListSubmissions(context.Context, string) ([]store.Submission, error)
	ReviewSubmission(context.Context, string, string, string, string) (bool, error)
	Ping(ctx context.Context) error
}

// sessionStore holds refresh sessions. Postgres serves by default; the
// Redis store is swapped in when REDIS_URL is set.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, store.User, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type gitService interface {
	EnsureProofRepo(proofID string, initial []byte, author string) error
	CommitProof(proofID string, payload []byte, author, message string) (store.CommitInfo, error)
	GetHeadProof(proofID string) ([]byte, store.CommitInfo, error)
	GetProofByHash(proofID, hash string) ([]byte, error)
	GetCommitByHash(proofID, hash string) (store.CommitInfo, error)
	History(proofID string, limit int) ([]store.CommitInfo, error)
	CreateNamedVersion(proofID, hash, name, author string) error
	ListNamedVersions(proofID string) ([]store.NamedVersion, error)
	DeleteProofRepo(proofID string) error
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexProof(p search.ProofRecord)
	DeleteProof(id string)
}

type emailSender interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendSubmissionEmail(to, userName, studentName, proofTitle, reviewURL string) error
}

// workingCopy is the in-memory editable state of one proof, loaded from
// the repository head on first touch. All edits to one proof serialize
// through its mutex; the document model itself takes no locks.
type workingCopy struct {
	mu    sync.Mutex
	doc   *proof.Proof
	meta  proofjson.Meta
	dirty bool
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	git      gitService
	search   searchIndex
	email    emailSender
	authpw   *authpw.Service
	export   *export.Service
	blob     *blob.Store
	checker  rulecheck.Checker

	mu   sync.Mutex
	open map[string]*workingCopy
}

func New(cfg config.Config, dataStore *store.PostgresStore, gitService *gitrepo.Service, searchService *search.Service) *Service {
	return NewWithSessionStore(cfg, dataStore, dataStore, gitService, searchService)
}

func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, gitService *gitrepo.Service, searchService *search.Service) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		git:      gitService,
		search:   searchService,
		authpw:   authpw.NewService(dataStore),
		email: email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}),
		checker: rulecheck.Basic{},
		open:    make(map[string]*workingCopy),
	}
	s.export = export.NewService(exportSource{s})
	return s
}

// SetBlobStore enables archiving of export artifacts to object storage.
func (s *Service) SetBlobStore(b *blob.Store) {
	s.blob = b
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// ---- sessions ----

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// NotifyVerification emails the account verification link. No-op when
// SMTP is not configured; the signup handler falls back to a dev token.
func (s *Service) NotifyVerification(to, userName, token string) {
	if !s.SMTPConfigured() {
		return
	}
	url := strings.TrimRight(s.cfg.AppURL, "/") + "/verify-email?token=" + token
	if err := s.email.SendVerificationEmail(to, userName, url); err != nil {
		log.Printf("email: verification send failed: %v", err)
	}
}

// NotifyPasswordReset emails the password reset link.
func (s *Service) NotifyPasswordReset(to, userName, token string) {
	if !s.SMTPConfigured() {
		return
	}
	url := strings.TrimRight(s.cfg.AppURL, "/") + "/reset-password?token=" + token
	if err := s.email.SendPasswordResetEmail(to, userName, url); err != nil {
		log.Printf("email: reset send failed: %v", err)
	}
}

// ---- proof documents ----

// Rules lists the rule set with serialized names and display labels.
func (s *Service) Rules() []map[string]any {
	rules := proof.Rules()
	items := make([]map[string]any, 0, len(rules))
	for _, r := range rules {
		items = append(items, map[string]any{
			"name":       r.String(),
			"label":      r.Label(),
			"discharges": r.DischargesSubproof(),
		})
	}
	return items
}

func (s *Service) canViewProof(session Session, meta store.ProofDoc) bool {
	return meta.OwnerID == session.UserID || s.Can(session.Role, rbac.ActionReview)
}

func (s *Service) canEditProof(session Session, meta store.ProofDoc) bool {
	return meta.OwnerID == session.UserID || rbac.Normalize(session.Role) == rbac.RoleAdmin
}

func (s *Service) CreateProof(ctx context.Context, session Session, title, description string) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionEdit) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	proofTitle := strings.TrimSpace(title)
	if proofTitle == "" {
		proofTitle = "Untitled Proof"
	}
	proofID := util.NewID("proof")
	meta := store.ProofDoc{
		ID:          proofID,
		Title:       proofTitle,
		Description: strings.TrimSpace(description),
		Status:      "draft",
		OwnerID:     session.UserID,
		OwnerName:   session.UserName,
		UpdatedBy:   session.UserName,
	}
	if err := s.store.InsertProof(ctx, meta); err != nil {
		return nil, err
	}

	doc := proof.New()
	pm := proofjson.Meta{Author: session.UserName}
	payload, err := proofjson.Marshal(doc, pm)
	if err != nil {
		return nil, err
	}
	if err := s.git.EnsureProofRepo(proofID, payload, session.UserName); err != nil {
		return nil, err
	}

	s.indexProof(meta, pm)
	return s.GetProofWorkspace(ctx, session, proofID, "")
}

func (s *Service) ListProofs(ctx context.Context, session Session) ([]map[string]any, error) {
	ownerID := session.UserID
	if s.Can(session.Role, rbac.ActionReview) {
		ownerID = ""
	}
	proofs, err := s.store.ListProofs(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(proofs))
	for _, p := range proofs {
		items = append(items, map[string]any{
			"id":          p.ID,
			"title":       p.Title,
			"description": p.Description,
			"status":      p.Status,
			"ownerId":     p.OwnerID,
			"ownerName":   p.OwnerName,
			"updatedBy":   p.UpdatedBy,
			"updatedAt":   p.UpdatedAt.Format(time.RFC3339),
		})
	}
	return items, nil
}

// GetProofWorkspace returns the full editable view of a proof. An empty
// version means the working copy; anything else resolves through the
// repository (commit hash prefix or named version tag) and is read only.
func (s *Service) GetProofWorkspace(ctx context.Context, session Session, proofID, version string) (map[string]any, error) {
	meta, err := s.store.GetProof(ctx, proofID)
	if err != nil {
		return nil, err
	}
	if !s.canViewProof(session, meta) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	if version == "" || version == "head" || version == "latest" {
		wc, err := s.working(proofID)
		if err != nil {
			return nil, err
		}
		defer wc.mu.Unlock()
		return s.proofWorkspace(meta, wc.doc, wc.meta, wc.dirty, false), nil
	}

	payload, err := s.git.GetProofByHash(proofID, version)
	if err != nil {
		return nil, domainError(http.StatusNotFound, "VERSION_NOT_FOUND", "Unknown proof version", nil)
	}
	doc, pm, err := proofjson.Unmarshal(payload, expr.Parse)
	if err != nil {
		return nil, err
	}
	view := s.proofWorkspace(meta, doc, pm, false, true)
	view["version"] = version
	if info, err := s.git.GetCommitByHash(proofID, version); err == nil {
		view["commit"] = map[string]any{
			"hash":    info.Hash,
			"message": info.Message,
			"author":  info.Author,
		}
	}
	return view, nil
}

func (s *Service) EditProof(ctx context.Context, session Session, proofID string, input EditInput) (map[string]any, error) {
	meta, err := s.store.GetProof(ctx, proofID)
	if err != nil {
		return nil, err
	}
	if !s.canEditProof(session, meta) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	wc, err := s.working(proofID)
	if err != nil {
		return nil, err
	}
	defer wc.mu.Unlock()

	if err := applyEdit(wc, input); err != nil {
		return nil, err
	}
	wc.dirty = true
	return s.proofWorkspace(meta, wc.doc, wc.meta, wc.dirty, false), nil
}

// applyEdit mutates the working copy according to one edit operation.
func applyEdit(wc *workingCopy, input EditInput) error {
	doc := wc.doc
	addr := resolveAddresses(doc)

	switch input.Op {
	case "set_expr":
		ref, ok := addr.lines[input.Line]
		if !ok {
			return fmt.Errorf("%w: line %d", proof.ErrNotFound, input.Line)
		}
		parsed, err := parseEditExpr(input.Text)
		if err != nil {
			return err
		}
		if pr, isPremise := ref.Premise(); isPremise {
			return doc.WithPremise(pr, func(p *proof.Premise) error {
				p.Expr = parsed
				return nil
			})
		}
		st, _ := ref.Step()
		return doc.WithStep(st, func(j *proof.Justification) error {
			j.Conclusion = parsed
			return nil
		})

	case "set_rule":
		st, err := addr.step(input.Line)
		if err != nil {
			return err
		}
		rule, err := proof.ParseRule(input.Rule)
		if err != nil {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("unknown rule %q", input.Rule), nil)
		}
		return doc.WithStep(st, func(j *proof.Justification) error {
			j.Rule = rule
			return nil
		})

	case "toggle_dep":
		st, err := addr.step(input.Line)
		if err != nil {
			return err
		}
		dep, ok := addr.lines[input.Dep]
		if !ok {
			return fmt.Errorf("%w: line %d", proof.ErrNotFound, input.Dep)
		}
		return doc.WithStep(st, func(j *proof.Justification) error {
			j.SetLineDep(dep, !j.HasLineDep(dep))
			return nil
		})

	case "toggle_subdep":
		st, err := addr.step(input.Line)
		if err != nil {
			return err
		}
		sub, ok := addr.subs[input.Subproof]
		if !ok {
			return fmt.Errorf("%w: subproof at line %d", proof.ErrNotFound, input.Subproof)
		}
		return doc.WithStep(st, func(j *proof.Justification) error {
			j.SetSubproofDep(sub, !j.HasSubproofDep(sub))
			return nil
		})

	case "add_premise":
		anchor, ok := addr.lines[input.Anchor]
		if !ok {
			return fmt.Errorf("%w: line %d", proof.ErrNotFound, input.Anchor)
		}
		pr, isPremise := anchor.Premise()
		if !isPremise {
			return proof.ErrPremiseBoundary
		}
		_, err := doc.AddPremiseRelative(expr.Blank(), pr, input.After)
		return err

	case "add_step":
		entry, ok := addr.entries[input.Anchor]
		if !ok {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "anchor must be a step or a subproof", nil)
		}
		_, err := doc.AddStepRelative(expr.Blank(), proof.Reiteration, entry, input.After)
		return err

	case "add_subproof":
		entry, ok := addr.entries[input.Anchor]
		if !ok {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "anchor must be a step or a subproof", nil)
		}
		_, err := doc.AddSubproofRelative(entry, input.After)
		return err

	case "remove_line":
		ref, ok := addr.lines[input.Line]
		if !ok {
			return fmt.Errorf("%w: line %d", proof.ErrNotFound, input.Line)
		}
		return doc.RemoveLine(ref)

	case "remove_subproof":
		sub, ok := addr.subs[input.Subproof]
		if !ok {
			return fmt.Errorf("%w: subproof at line %d", proof.ErrNotFound, input.Subproof)
		}
		return doc.RemoveSubproof(sub)

	case "set_goals":
		goals, err := parseGoals(input.Text)
		if err != nil {
			return err
		}
		wc.meta.Goals = goals
		return nil

	default:
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("unknown edit op %q", input.Op), nil)
	}
}

func parseEditExpr(text string) (expr.Expr, error) {
	if strings.TrimSpace(text) == "" {
		return expr.Blank(), nil
	}
	parsed, ok := expr.Parse(text)
	if !ok {
		return expr.Expr{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("malformed expression %q", text), nil)
	}
	return parsed, nil
}

func parseGoals(text string) ([]expr.Expr, error) {
	var goals []expr.Expr
	for _, part := range strings.Split(text, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		parsed, ok := expr.Parse(part)
		if !ok {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("malformed goal %q", part), nil)
		}
		goals = append(goals, parsed)
	}
	return goals, nil
}

// VerifyProof runs the rule checker over the working copy. Violations are
// diagnostics, not errors: the document stays editable either way.
func (s *Service) VerifyProof(ctx context.Context, session Session, proofID string) (map[string]any, error) {
	meta, err := s.store.GetProof(ctx, proofID)
	if err != nil {
		return nil, err
	}
	if !s.canViewProof(session, meta) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	wc, err := s.working(proofID)
	if err != nil {
		return nil, err
	}
	defer wc.mu.Unlock()

	violations := rulecheck.CheckAll(wc.doc, s.checker)
	definite := 0
	for _, v := range violations {
		if !v.Advisory {
			definite++
		}
	}
	if violations == nil {
		violations = []rulecheck.Violation{}
	}
	goalsMet := goalsProven(wc.doc, wc.meta.Goals)
	return map[string]any{
		"proofId":    proofID,
		"ok":         definite == 0,
		"violations": violations,
		"goalsMet":   goalsMet,
	}, nil
}

// goalsProven reports, per goal, whether some top-level line concludes it.
func goalsProven(doc *proof.Proof, goals []expr.Expr) []map[string]any {
	concluded := make(map[string]bool)
	for _, row := range doc.Flatten() {
		if row.Depth == 0 && row.Expr != "" && !row.IsPremise {
			concluded[row.Expr] = true
		}
	}
	out := make([]map[string]any, 0, len(goals))
	for _, g := range goals {
		out = append(out, map[string]any{
			"goal":   g.String(),
			"proven": concluded[g.String()],
		})
	}
	return out
}

type SaveInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func (s *Service) SaveProof(ctx context.Context, session Session, proofID string, input SaveInput) (map[string]any, error) {
	meta, err := s.store.GetProof(ctx, proofID)
	if err != nil {
		return nil, err
	}
	if !s.canEditProof(session, meta) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	wc, err := s.working(proofID)
	if err != nil {
		return nil, err
	}
	defer wc.mu.Unlock()

	if wc.meta.Author == "" {
		wc.meta.Author = meta.OwnerName
	}
	payload, err := proofjson.Marshal(wc.doc, wc.meta)
	if err != nil {
		return nil, err
	}

	head, _, err := s.git.GetHeadProof(proofID)
	if err != nil {
		return nil, err
	}
	var commit *store.CommitInfo
	if gitrepo.HasChanges(head, payload) {
		message := strings.TrimSpace(input.Message)
		if message == "" {
			message = "Update proof"
		}
		info, err := s.git.CommitProof(proofID, payload, session.UserName, message)
		if err != nil {
			return nil, err
		}
		commit = &info
	}

	// Reload from the committed payload so the in-memory hash matches the
	// persisted one.
	doc, pm, err := proofjson.Unmarshal(payload, expr.Parse)
	if err != nil {
		return nil, err
	}
	wc.doc, wc.meta, wc.dirty = doc, pm, false

	title := firstNonBlank(strings.TrimSpace(input.Title), meta.Title)
	description := strings.TrimSpace(input.Description)
	if description == "" {
		description = meta.Description
	}
	if err := s.store.UpdateProofState(ctx, proofID, title, description, meta.Status, session.UserName); err != nil {
		return nil, err
	}
	meta.Title, meta.Description, meta.UpdatedBy = title, description, session.UserName

	s.indexProof(meta, pm)

	view := s.proofWorkspace(meta, wc.doc, wc.meta, false, false)
	if commit != nil {
		view["commit"] = map[string]any{
			"hash":    commit.Hash,
			"message": commit.Message,
			"author":  commit.Author,
		}
	}
	return view, nil
}

func (s *Service) DeleteProof(ctx context.Context, session Session, proofID string) error {
	meta, err := s.store.GetProof(ctx, proofID)
	if err != nil {
		return err
	}
	if !s.canEditProof(session, meta) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	deleted, err := s.store.DeleteProof(ctx, proofID)
	if err != nil {
		return err
	}
	if !deleted {
		return sql.ErrNoRows
	}
	if err := s.git.DeleteProofRepo(proofID); err != nil {
		log.Printf("gitrepo: delete %s: %v", proofID, err)
	}
	s.search.DeleteProof(proofID)

	s.mu.Lock()
	delete(s.open, proofID)
	s.mu.Unlock()
	return nil
}

// ---- history and named versions ----

func (s *Service) ProofHistory(ctx context.Context, session Session, proofID string) (map[string]any, error) {
	meta, err := s.store.GetProof(ctx, proofID)
	if err != nil {
		return nil, err
	}
	if !s.canViewProof(session, meta) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	commits, err := s.git.History(proofID, 50)
	if err != nil {
		return nil, err
	}
	versions, err := s.git.ListNamedVersions(proofID)
	if err != nil {
		return nil, err
	}

	commitItems := make([]map[string]any, 0, len(commits))
	for _, item := range commits {
		commitItems = append(commitItems, map[string]any{
			"hash":    item.Hash,
			"message": item.Message,
			"author":  item.Author,
			"meta":    fmt.Sprintf("%s · %s", item.Author, relative(item.CreatedAt)),
		})
	}
	versionItems := make([]map[string]any, 0, len(versions))
	for _, v := range versions {
		versionItems = append(versionItems, map[string]any{
			"name":      v.Name,
			"hash":      v.Hash,
			"createdBy": v.CreatedBy,
			"createdAt": v.CreatedAt.Format(time.RFC3339),
		})
	}
	return map[string]any{
		"proofId":       proofID,
		"commits":       commitItems,
		"namedVersions": versionItems,
	}, nil
}

func (s *Service) SaveNamedVersion(ctx context.Context, session Session, proofID, name string) (map[string]any, error) {
	meta, err := s.store.GetProof(ctx, proofID)
	if err != nil {
		return nil, err
	}
	if !s.canEditProof(session, meta) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	label := strings.TrimSpace(name)
	if label == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	_, head, err := s.git.GetHeadProof(proofID)
	if err != nil {
		return nil, err
	}
	tag := versionTagName(label)
	if err := s.git.CreateNamedVersion(proofID, head.Hash, tag, session.UserName); err != nil {
		return nil, err
	}
	return s.ProofHistory(ctx, session, proofID)
}

// versionTagName slugs a user label into a valid tag name.
func versionTagName(label string) string {
	slug := make([]rune, 0, len(label))
	lastDash := false
	for _, ch := range strings.ToLower(strings.TrimSpace(label)) {
		if (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') {
			slug = append(slug, ch)
			lastDash = false
			continue
		}
		if !lastDash {
			slug = append(slug, '-')
			lastDash = true
		}
	}
	text := strings.Trim(string(slug), "-")
	if text == "" {
		text = "version"
	}
	if len(text) > 48 {
		text = strings.TrimRight(text[:48], "-")
	}
	return text
}

// ---- submissions ----

func (s *Service) SubmitProof(ctx context.Context, session Session, proofID string) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionSubmit) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	meta, err := s.store.GetProof(ctx, proofID)
	if err != nil {
		return nil, err
	}
	if meta.OwnerID != session.UserID {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only the owner may submit a proof", nil)
	}

	s.mu.Lock()
	wc := s.open[proofID]
	s.mu.Unlock()
	if wc != nil {
		wc.mu.Lock()
		dirty := wc.dirty
		wc.mu.Unlock()
		if dirty {
			return nil, domainError(http.StatusConflict, "UNSAVED_CHANGES", "Save the proof before submitting", nil)
		}
	}

	_, head, err := s.git.GetHeadProof(proofID)
	if err != nil {
		return nil, err
	}

	submission := store.Submission{
		ID:          util.NewID("sub"),
		ProofID:     proofID,
		ProofTitle:  meta.Title,
		StudentID:   session.UserID,
		StudentName: session.UserName,
		Status:      "submitted",
		CommitHash:  head.Hash,
	}
	if err := s.store.CreateSubmission(ctx, submission); err != nil {
		return nil, err
	}
	if err := s.store.UpdateProofState(ctx, proofID, meta.Title, meta.Description, "submitted", session.UserName); err != nil {
		return nil, err
	}

	if s.SMTPConfigured() {
		go s.notifyInstructors(submission)
	}
	return submissionView(submission), nil
}

func (s *Service) notifyInstructors(submission store.Submission) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	instructors, err := s.store.ListUsersByRole(ctx, string(rbac.RoleInstructor))
	if err != nil {
		log.Printf("email: list instructors: %v", err)
		return
	}
	reviewURL := strings.TrimRight(s.cfg.AppURL, "/") + "/submissions/" + submission.ID
	for _, instructor := range instructors {
		if instructor.Email == "" {
			continue
		}
		if err := s.email.SendSubmissionEmail(instructor.Email, instructor.DisplayName, submission.StudentName, submission.ProofTitle, reviewURL); err != nil {
			log.Printf("email: submission notify %s: %v", instructor.Email, err)
		}
	}
}

func (s *Service) ListSubmissionQueue(ctx context.Context, session Session, status string) ([]map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionReview) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	submissions, err := s.store.ListSubmissions(ctx, status)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(submissions))
	for _, sub := range submissions {
		items = append(items, submissionView(sub))
	}
	return items, nil
}

func (s *Service) GetSubmission(ctx context.Context, session Session, submissionID string) (map[string]any, error) {
	submission, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if submission.StudentID != session.UserID && !s.Can(session.Role, rbac.ActionReview) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return submissionView(submission), nil
}

var allowedReviewStatuses = map[string]struct{}{
	"approved":      {},
	"rejected":      {},
	"needs_changes": {},
}

func (s *Service) ReviewSubmission(ctx context.Context, session Session, submissionID, status, note string) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionReview) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if _, ok := allowedReviewStatuses[status]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be approved, rejected or needs_changes", nil)
	}
	if status == "rejected" && strings.TrimSpace(note) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "a note is required when rejecting", nil)
	}

	changed, err := s.store.ReviewSubmission(ctx, submissionID, status, strings.TrimSpace(note), session.UserName)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, domainError(http.StatusConflict, "ALREADY_REVIEWED", "Submission was already reviewed", nil)
	}

	submission, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	meta, err := s.store.GetProof(ctx, submission.ProofID)
	if err == nil {
		proofStatus := status
		if status == "needs_changes" {
			proofStatus = "draft"
		}
		if err := s.store.UpdateProofState(ctx, submission.ProofID, meta.Title, meta.Description, proofStatus, session.UserName); err != nil {
			log.Printf("store: update proof status: %v", err)
		}
	}

	if s.SMTPConfigured() {
		go s.notifyStudent(submission)
	}
	return submissionView(submission), nil
}

func (s *Service) notifyStudent(submission store.Submission) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	student, err := s.store.GetUserByID(ctx, submission.StudentID)
	if err != nil || student.Email == "" {
		return
	}
	reviewURL := strings.TrimRight(s.cfg.AppURL, "/") + "/submissions/" + submission.ID
	if err := s.email.SendSubmissionEmail(student.Email, student.DisplayName, submission.ReviewedBy, submission.ProofTitle, reviewURL); err != nil {
		log.Printf("email: review notify %s: %v", student.Email, err)
	}
}

func submissionView(sub store.Submission) map[string]any {
	view := map[string]any{
		"id":          sub.ID,
		"proofId":     sub.ProofID,
		"proofTitle":  sub.ProofTitle,
		"studentId":   sub.StudentID,
		"studentName": sub.StudentName,
		"status":      sub.Status,
		"commitHash":  sub.CommitHash,
		"reviewNote":  sub.ReviewNote,
		"reviewedBy":  sub.ReviewedBy,
		"createdAt":   sub.CreatedAt.Format(time.RFC3339),
	}
	if sub.ReviewedAt != nil {
		view["reviewedAt"] = sub.ReviewedAt.Format(time.RFC3339)
	}
	return view
}

// ---- search ----

func (s *Service) SearchProofs(ctx context.Context, session Session, q, status string, limit, offset int) search.Response {
	ownerFilter := ""
	if !s.Can(session.Role, rbac.ActionReview) {
		ownerFilter = session.UserID
	}
	return s.search.Search(search.Query{
		Text:          q,
		FilterOwnerID: ownerFilter,
		FilterStatus:  status,
		Limit:         limit,
		Offset:        offset,
	})
}

func (s *Service) indexProof(meta store.ProofDoc, pm proofjson.Meta) {
	goals := make([]string, 0, len(pm.Goals))
	for _, g := range pm.Goals {
		goals = append(goals, g.String())
	}
	s.search.IndexProof(search.ProofRecord{
		ID:          meta.ID,
		Title:       meta.Title,
		Description: meta.Description,
		Goals:       strings.Join(goals, "; "),
		OwnerID:     meta.OwnerID,
		OwnerName:   meta.OwnerName,
		Status:      meta.Status,
	})
}

// ---- export ----

func (s *Service) ExportProof(ctx context.Context, session Session, req export.Request) (*export.Result, error) {
	meta, err := s.store.GetProof(ctx, req.ProofID)
	if err != nil {
		return nil, err
	}
	if !s.canViewProof(session, meta) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	result, err := s.export.Export(ctx, req)
	if err != nil {
		return nil, err
	}
	if s.blob != nil {
		go func(r export.Result) {
			archiveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := s.blob.PutExport(archiveCtx, req.ProofID, r.Filename, r.MimeType, r.Data); err != nil {
				log.Printf("blob: archive export: %v", err)
			}
		}(*result)
	}
	return result, nil
}

// exportSource feeds the export renderer from the store and repository.
type exportSource struct {
	s *Service
}

func (e exportSource) GetProofInfo(ctx context.Context, id string) (export.ProofInfo, error) {
	meta, err := e.s.store.GetProof(ctx, id)
	if err != nil {
		return export.ProofInfo{}, err
	}
	return export.ProofInfo{
		ID:        meta.ID,
		Title:     meta.Title,
		OwnerName: meta.OwnerName,
		UpdatedAt: meta.UpdatedAt,
	}, nil
}

func (e exportSource) GetProofPayload(ctx context.Context, id, version string) ([]byte, error) {
	if version == "" || version == "head" || version == "latest" {
		// Export what the user sees: the working copy when one is open,
		// the repository head otherwise.
		e.s.mu.Lock()
		wc := e.s.open[id]
		e.s.mu.Unlock()
		if wc != nil {
			wc.mu.Lock()
			defer wc.mu.Unlock()
			if wc.doc != nil {
				return proofjson.Marshal(wc.doc, wc.meta)
			}
		}
		payload, _, err := e.s.git.GetHeadProof(id)
		return payload, err
	}
	return e.s.git.GetProofByHash(id, version)
}

// ---- working copies and views ----

// working returns the proof's working copy with its mutex held. The
// caller must unlock it.
func (s *Service) working(proofID string) (*workingCopy, error) {
	s.mu.Lock()
	wc, ok := s.open[proofID]
	if !ok {
		wc = &workingCopy{}
		s.open[proofID] = wc
	}
	s.mu.Unlock()

	wc.mu.Lock()
	if wc.doc == nil {
		payload, _, err := s.git.GetHeadProof(proofID)
		if err != nil {
			wc.mu.Unlock()
			return nil, err
		}
		doc, pm, err := proofjson.Unmarshal(payload, expr.Parse)
		if err != nil {
			wc.mu.Unlock()
			return nil, err
		}
		wc.doc, wc.meta = doc, pm
	}
	return wc, nil
}

func (s *Service) proofWorkspace(meta store.ProofDoc, doc *proof.Proof, pm proofjson.Meta, dirty, readOnly bool) map[string]any {
	view := renderProof(doc, pm)
	view["id"] = meta.ID
	view["title"] = meta.Title
	view["description"] = meta.Description
	view["status"] = meta.Status
	view["ownerId"] = meta.OwnerID
	view["ownerName"] = meta.OwnerName
	view["updatedBy"] = meta.UpdatedBy
	view["updatedAt"] = meta.UpdatedAt.Format(time.RFC3339)
	view["dirty"] = dirty
	view["readOnly"] = readOnly
	return view
}

// renderProof flattens the document into the numbered row view served to
// the editor.
func renderProof(doc *proof.Proof, pm proofjson.Meta) map[string]any {
	rows := doc.Flatten()
	lines := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		item := map[string]any{
			"number":    row.Number,
			"depth":     row.Depth,
			"isPremise": row.IsPremise,
			"expr":      row.Expr,
			"canRemove": doc.CanRemoveLine(row.Ref),
		}
		if !row.IsPremise {
			deps := row.Deps
			if deps == nil {
				deps = []int{}
			}
			subdeps := row.SubDeps
			if subdeps == nil {
				subdeps = [][2]int{}
			}
			item["rule"] = row.Rule.String()
			item["ruleLabel"] = row.Rule.Label()
			item["deps"] = deps
			item["subdeps"] = subdeps
		}
		lines = append(lines, item)
	}

	goals := make([]string, 0, len(pm.Goals))
	for _, g := range pm.Goals {
		goals = append(goals, g.String())
	}

	return map[string]any{
		"lines":     lines,
		"subproofs": subproofRanges(doc, doc.Root(), nil),
		"goals":     goals,
		"author":    pm.Author,
		"hash":      pm.Hash,
	}
}

func subproofRanges(doc *proof.Proof, sub proof.SubproofRef, acc []map[string]any) []map[string]any {
	if acc == nil {
		acc = []map[string]any{}
	}
	lines, err := doc.Lines(sub)
	if err != nil {
		return acc
	}
	for _, entry := range lines {
		child, ok := entry.Subproof()
		if !ok {
			continue
		}
		first, last, err := doc.SubproofRange(child)
		if err != nil {
			continue
		}
		acc = append(acc, map[string]any{"first": first, "last": last})
		acc = subproofRanges(doc, child, acc)
	}
	return acc
}

// address maps current line numbers back to references for one edit.
type address struct {
	lines   map[int]proof.LineRef
	entries map[int]proof.Entry
	subs    map[int]proof.SubproofRef
}

func (a address) step(number int) (proof.StepRef, error) {
	ref, ok := a.lines[number]
	if !ok {
		return proof.StepRef{}, fmt.Errorf("%w: line %d", proof.ErrNotFound, number)
	}
	st, isStep := ref.Step()
	if !isStep {
		return proof.StepRef{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("line %d is a premise", number), nil)
	}
	return st, nil
}

func resolveAddresses(doc *proof.Proof) address {
	addr := address{
		lines:   make(map[int]proof.LineRef),
		entries: make(map[int]proof.Entry),
		subs:    make(map[int]proof.SubproofRef),
	}
	for _, row := range doc.Flatten() {
		addr.lines[row.Number] = row.Ref
		if st, ok := row.Ref.Step(); ok {
			addr.entries[row.Number] = proof.StepEntry(st)
		}
	}
	collectSubAddresses(doc, doc.Root(), &addr)
	return addr
}

// collectSubAddresses keys every nested subproof by the number of its
// first line. That number belongs to the subproof's first premise, so it
// never collides with a step entry.
func collectSubAddresses(doc *proof.Proof, sub proof.SubproofRef, addr *address) {
	lines, err := doc.Lines(sub)
	if err != nil {
		return
	}
	for _, entry := range lines {
		child, ok := entry.Subproof()
		if !ok {
			continue
		}
		first, _, err := doc.SubproofRange(child)
		if err == nil {
			addr.subs[first] = child
			addr.entries[first] = entry
		}
		collectSubAddresses(doc, child, addr)
	}
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func relative(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
