package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/stampede/api/schemas"
)

// fetchResult is the decoded outcome of an in-page fetch.
type fetchResult struct {
	Status int    `json:"status"`
	Body   string `json:"body"`
}

// fetchJSON performs a fetch inside the session (so it rides the real
// cookies/headers) and returns the response status and a body prefix. An
// empty body means no request payload.
func (h *Harness) fetchJSON(ctx context.Context, method, path, body string) (fetchResult, error) {
	bodyLit := "undefined"
	if body != "" {
		bodyLit = strconv.Quote(body)
	}
	expr := fmt.Sprintf(`(async () => {
	try {
		const res = await fetch(%q, {method: %q, headers: {"Content-Type": "application/json"}, body: %s, credentials: "same-origin"});
		const text = await res.text();
		return JSON.stringify({status: res.status, body: text.slice(0, 4096)});
	} catch (e) {
		return JSON.stringify({status: 0, body: String(e)});
	}
})()`, path, method, bodyLit)

	raw, err := h.driver.Evaluate(ctx, expr)
	if err != nil {
		return fetchResult{}, err
	}
	var res fetchResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return fetchResult{}, fmt.Errorf("malformed fetch result %q: %w", raw, err)
	}
	return res, nil
}

// observe is a best-effort snapshot; probes compare deltas, so a failed read
// degrades to zeros rather than aborting the probe.
func (h *Harness) observe(ctx context.Context) schemas.Snapshot {
	snap, err := h.driver.ObserveState(ctx)
	if err != nil {
		h.log.Debug("Snapshot failed during probe", zap.Error(err))
	}
	return snap
}

// probeRaceDuplication fires the same once-only claim twice concurrently. At
// most one of two identical concurrent claims may succeed.
func (h *Harness) probeRaceDuplication(ctx context.Context) error {
	action := schemas.Action{
		Name:   "claim_daily_reward",
		Class:  "economy",
		Target: "/bank",
		Params: map[string]string{"selector": `[data-action="claim_daily_reward"]`},
	}

	var (
		wg       sync.WaitGroup
		outcomes [2]schemas.Outcome
		errs     [2]error
	)
	for i := range outcomes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i], errs[i] = h.driver.PerformAction(ctx, action)
		}()
	}
	wg.Wait()

	if errs[0] != nil && errs[1] != nil {
		return fmt.Errorf("both claim attempts failed: %w", errs[0])
	}
	if outcomes[0].Success && outcomes[1].Success && errs[0] == nil && errs[1] == nil {
		h.emit(ctx, "RACE_CONDITION", "Duplicate concurrent reward claims both succeeded", schemas.ExploitFinding{
			Description: "Two identical claim_daily_reward actions submitted concurrently were both accepted.",
			Reproduction: []string{
				"Log in as any user.",
				"Submit the daily reward claim twice in parallel (two tabs or two concurrent requests).",
				"Observe both claims credited.",
			},
			Observed:    "Both concurrent claims reported success.",
			Expected:    "At most one of two identical concurrent claims succeeds; the second is rejected as already claimed.",
			Impact:      "Rewards and any once-only grant can be duplicated at will, inflating the economy.",
			Remediation: "Make claim processing atomic (unique constraint or row lock on the claim record).",
		})
	}
	return nil
}

// probeNegativeValues submits a negative deposit. The server must reject
// out-of-domain amounts; acceptance converts a deposit into a free withdrawal.
func (h *Harness) probeNegativeValues(ctx context.Context) error {
	before := h.observe(ctx)
	res, err := h.fetchJSON(ctx, "POST", "/api/bank/deposit", `{"amount": -1000}`)
	if err != nil {
		return err
	}
	after := h.observe(ctx)

	gained := after.Resource("gold") - before.Resource("gold")
	if res.Status >= 200 && res.Status < 300 || gained > 0 {
		h.emit(ctx, "NEGATIVE_VALUE", "Negative deposit amount accepted", schemas.ExploitFinding{
			Description:  "A bank deposit with amount -1000 was accepted by the server.",
			Reproduction: []string{"POST /api/bank/deposit with body {\"amount\": -1000}."},
			Observed:     fmt.Sprintf("Server responded %d; wallet gold changed by %+.0f.", res.Status, gained),
			Expected:     "Amounts outside (0, balance] are rejected with a 4xx response and no state change.",
			Impact:       "Negative deposits withdraw funds that were never deposited, minting gold from nothing.",
			Remediation:  "Validate amount > 0 server-side before applying any balance mutation.",
		})
	}
	return nil
}

// probeBoundaryOverflow pushes extreme numeric values at the deposit
// endpoint, looking for wraparound or silent acceptance.
func (h *Harness) probeBoundaryOverflow(ctx context.Context) error {
	payloads := []string{
		`{"amount": 9223372036854775807}`,
		`{"amount": 1e308}`,
	}
	before := h.observe(ctx)
	for _, body := range payloads {
		res, err := h.fetchJSON(ctx, "POST", "/api/bank/deposit", body)
		if err != nil {
			return err
		}
		after := h.observe(ctx)
		if res.Status >= 200 && res.Status < 300 || after.Resource("gold") < 0 {
			h.emit(ctx, "OVERFLOW", "Boundary deposit value accepted", schemas.ExploitFinding{
				Description:  "An out-of-range deposit amount was accepted instead of rejected.",
				Reproduction: []string{"POST /api/bank/deposit with body " + body + "."},
				Observed:     fmt.Sprintf("Server responded %d; gold before %.0f, after %.0f.", res.Status, before.Resource("gold"), after.Resource("gold")),
				Expected:     "Amounts beyond the representable balance range are rejected with a 4xx response.",
				Impact:       "Integer wraparound can zero or invert balances, corrupting the economy.",
				Remediation:  "Range-check amounts against the balance domain before arithmetic.",
			})
			return nil
		}
	}
	return nil
}

// injectionPayloads pairs each payload with its category and the marker whose
// unescaped reflection proves the injection landed.
var injectionPayloads = []struct {
	category string
	payload  string
	marker   string
}{
	{"XSS", `<script>alert(1)</script>`, `<script>alert(1)</script>`},
	{"SSTI", `{{1337*1337}}`, `1787569`},
}

// sqlErrorSignatures mark database errors leaking through responses.
var sqlErrorSignatures = []string{
	"SQL syntax", "sqlite3", "SQLITE_ERROR", "pq: syntax error", "ORA-01756", "unterminated quoted string",
}

// probeInjectionPayloads submits classic injection strings through the chat
// input and checks whether the page reflects them unescaped, or whether the
// backend leaks database errors.
func (h *Harness) probeInjectionPayloads(ctx context.Context) error {
	for _, p := range injectionPayloads {
		action := schemas.Action{
			Name:   "chat",
			Class:  "social",
			Target: "/tavern",
			Params: map[string]string{
				"selector":      `[data-action="chat"]`,
				"field.message": p.payload,
			},
		}
		if _, err := h.driver.PerformAction(ctx, action); err != nil {
			h.log.Debug("Injection submission failed", zap.String("category", p.category), zap.Error(err))
			continue
		}

		rendered, err := h.driver.Evaluate(ctx, `document.body.innerHTML`)
		if err != nil {
			return err
		}
		if strings.Contains(rendered, p.marker) {
			h.emit(ctx, p.category, fmt.Sprintf("%s payload reflected unescaped", p.category), schemas.ExploitFinding{
				Description:  fmt.Sprintf("The chat input rendered the payload %q without escaping.", p.payload),
				Reproduction: []string{"Open /tavern.", fmt.Sprintf("Send the chat message %q.", p.payload), "Inspect the rendered message."},
				Observed:     "The payload appears verbatim in the page DOM.",
				Expected:     "User-supplied content is HTML-escaped (and never template-evaluated) on output.",
				Impact:       "Arbitrary script execution in every client that renders the message.",
				Remediation:  "Escape on output and enable a restrictive Content-Security-Policy.",
			})
		}
	}

	// SQL injection is judged by backend behavior, not DOM reflection.
	sqli := `' OR '1'='1`
	res, err := h.fetchJSON(ctx, "POST", "/api/chat", fmt.Sprintf(`{"message": %q}`, sqli))
	if err != nil {
		return err
	}
	for _, sig := range sqlErrorSignatures {
		if strings.Contains(res.Body, sig) {
			h.emit(ctx, "SQLI", "Database error leaked by injection payload", schemas.ExploitFinding{
				Description:  "A quoted SQL metacharacter payload surfaced a raw database error in the response.",
				Reproduction: []string{fmt.Sprintf("POST /api/chat with body {\"message\": %q}.", sqli)},
				Observed:     fmt.Sprintf("Response %d contained the database error signature %q.", res.Status, sig),
				Expected:     "Input reaches the database only through parameterized queries; errors are never echoed.",
				Impact:       "Attacker-controlled SQL fragments reach the query layer.",
				Remediation:  "Use bound parameters everywhere and return generic error bodies.",
			})
			break
		}
	}
	return nil
}

// probeClientStateTampering inflates the client-side wallet and tries an
// expensive purchase. The server must price-check against its own state.
func (h *Harness) probeClientStateTampering(ctx context.Context) error {
	before := h.observe(ctx)

	tamper := `(() => {
	const gs = window.__gameState || window.gameState;
	if (!gs || !gs.resources) return "no-state";
	gs.resources.gold = 999999999;
	return "tampered";
})()`
	tag, err := h.driver.Evaluate(ctx, tamper)
	if err != nil {
		return err
	}
	if tag != "tampered" {
		h.log.Debug("No client state object to tamper with, skipping")
		return nil
	}

	res, err := h.fetchJSON(ctx, "POST", "/api/market/buy", `{"item": "estate", "price": 500000}`)
	if err != nil {
		return err
	}
	if res.Status >= 200 && res.Status < 300 && before.Resource("gold") < 500000 {
		h.emit(ctx, "STATE_TAMPERING", "Purchase authorized against client-side balance", schemas.ExploitFinding{
			Description:  "After inflating the in-page gold counter, a purchase far beyond the real balance was accepted.",
			Reproduction: []string{"Set window.__gameState.resources.gold to a huge value in the console.", "Buy any item priced above the real balance."},
			Observed:     fmt.Sprintf("Purchase accepted with status %d while the real balance was %.0f.", res.Status, before.Resource("gold")),
			Expected:     "Purchases are authorized against server-side balances only.",
			Impact:       "Any client can buy arbitrary items for free.",
			Remediation:  "Treat all client state as display-only; re-derive balances server-side per transaction.",
		})
	}
	return nil
}

// probeAuthTokenTampering forges the session JWT (alg none, elevated role)
// and checks whether privileged surface accepts it.
func (h *Harness) probeAuthTokenTampering(ctx context.Context) error {
	original, err := h.driver.Evaluate(ctx,
		`localStorage.getItem("token") || (document.cookie.match(/token=([^;]+)/) || [])[1] || ""`)
	if err != nil {
		return err
	}
	if original == "" {
		h.log.Debug("No bearer token found, skipping token tampering")
		return nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(original, claims); err != nil {
		return fmt.Errorf("session token is not a parseable JWT: %w", err)
	}
	claims["role"] = "admin"

	forged, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		return fmt.Errorf("failed to forge token: %w", err)
	}

	if _, err := h.driver.Evaluate(ctx, fmt.Sprintf(`localStorage.setItem("token", %q)`, forged)); err != nil {
		return err
	}
	// Always restore the real token, even if the check below fails.
	defer func() {
		if _, rerr := h.driver.Evaluate(ctx, fmt.Sprintf(`localStorage.setItem("token", %q)`, original)); rerr != nil {
			h.log.Warn("Failed to restore original token", zap.Error(rerr))
		}
	}()

	res, err := h.fetchJSON(ctx, "GET", "/api/admin/users", "")
	if err != nil {
		return err
	}
	if res.Status >= 200 && res.Status < 300 {
		h.emit(ctx, "AUTH", "Unsigned forged JWT accepted", schemas.ExploitFinding{
			Description:  "A JWT re-signed with alg none and an elevated role claim was accepted on an admin endpoint.",
			Reproduction: []string{"Decode the session JWT.", "Set role=admin and alg=none, drop the signature.", "GET /api/admin/users with the forged token."},
			Observed:     fmt.Sprintf("Admin endpoint responded %d to the forged token.", res.Status),
			Expected:     "Tokens with alg none or invalid signatures are rejected with 401.",
			Impact:       "Full authentication bypass and privilege escalation.",
			Remediation:  "Pin the accepted signing algorithm and verify signatures on every request.",
		})
	}
	return nil
}

// probeRateLimitFlood paces a burst of identical requests and expects the
// server to start throttling before the burst completes.
func (h *Harness) probeRateLimitFlood(ctx context.Context) error {
	requests := h.cfg.FloodRequests
	if requests <= 0 {
		requests = 50
	}
	perSec := h.cfg.FloodRatePerSec
	if perSec <= 0 {
		perSec = 25
	}

	limiter := rate.NewLimiter(rate.Limit(perSec), 1)
	var accepted int
	for i := 0; i < requests; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		res, err := h.fetchJSON(ctx, "GET", "/api/state", "")
		if err != nil {
			return err
		}
		if res.Status == 429 || res.Status == 503 {
			h.log.Debug("Throttling observed", zap.Int("after_requests", i+1))
			return nil
		}
		if res.Status >= 200 && res.Status < 300 {
			accepted++
		}
	}

	if accepted == requests {
		h.emit(ctx, "RATE_LIMIT", "No throttling under sustained request flood", schemas.ExploitFinding{
			Description:  fmt.Sprintf("%d requests at %.0f/s were all accepted with no throttling response.", requests, perSec),
			Reproduction: []string{fmt.Sprintf("Issue %d GET /api/state requests at %.0f per second from one session.", requests, perSec)},
			Observed:     "Every request in the burst returned a success status.",
			Expected:     "Sustained bursts from one session are throttled with 429 responses.",
			Impact:       "One session can monopolize server capacity or brute-force endpoints unhindered.",
			Remediation:  "Apply per-session and per-IP rate limits at the API gateway.",
		})
	}
	return nil
}

// probeConcurrentSessions re-authenticates in-band and checks whether the
// previous session token survives, which would allow unlimited parallel
// sessions per account.
func (h *Harness) probeConcurrentSessions(ctx context.Context) error {
	original, err := h.driver.Evaluate(ctx, `localStorage.getItem("token") || ""`)
	if err != nil {
		return err
	}
	if original == "" || h.creds.Username == "" {
		h.log.Debug("No token or credentials available, skipping session probe")
		return nil
	}

	body := fmt.Sprintf(`{"username": %q, "password": %q}`, h.creds.Username, h.creds.Password)
	loginRes, err := h.fetchJSON(ctx, "POST", "/api/login", body)
	if err != nil {
		return err
	}
	if loginRes.Status < 200 || loginRes.Status >= 300 {
		return fmt.Errorf("re-login for session probe failed with status %d", loginRes.Status)
	}

	// Present the old token explicitly and see if the backend still honors it.
	expr := fmt.Sprintf(`(async () => {
	try {
		const res = await fetch("/api/state", {headers: {"Authorization": "Bearer " + %q}});
		return String(res.status);
	} catch (e) { return "0"; }
})()`, original)
	status, err := h.driver.Evaluate(ctx, expr)
	if err != nil {
		return err
	}
	if status == "200" {
		h.emit(ctx, "SESSION", "Stale session token survives re-authentication", schemas.ExploitFinding{
			Description:  "After a fresh login, the previous session token still authenticates requests.",
			Reproduction: []string{"Log in and save the issued token.", "Log in again from the same account.", "Replay a request with the first token."},
			Observed:     "The pre-login token was accepted with status 200.",
			Expected:     "Re-authentication invalidates prior session tokens.",
			Impact:       "Stolen tokens stay valid indefinitely and sessions cannot be revoked.",
			Remediation:  "Rotate a server-side session generation counter on login and validate it per request.",
		})
	}
	return nil
}

// economyChecks are the per-subsystem exploit attempts: each names the
// subsystem, the request to make, and what acceptance proves.
var economyChecks = []struct {
	subsystem string
	method    string
	path      string
	body      string
	title     string
	observed  string
	expected  string
}{
	{
		subsystem: "market",
		method:    "POST", path: "/api/market/sell", body: `{"item": "probe-trinket", "quantity": 1}`,
		title:    "Item sold twice from a single inventory entry",
		observed: "A second sell of the same inventory entry was accepted.",
		expected: "Selling decrements inventory atomically; a second sell of the same entry fails.",
	},
	{
		subsystem: "bank",
		method:    "POST", path: "/api/bank/withdraw", body: `{"amount": 100}`,
		title:    "Withdrawal accepted beyond deposited balance",
		observed: "A withdrawal exceeding the banked balance was accepted.",
		expected: "Withdrawals are capped at the banked balance.",
	},
	{
		subsystem: "crafting",
		method:    "POST", path: "/api/craft", body: `{"recipe": "iron-sword", "materials": []}`,
		title:    "Crafting succeeded without consuming materials",
		observed: "A craft request with an empty materials list was accepted.",
		expected: "Crafting validates and consumes the full material list server-side.",
	},
}

// probeEconomyExploits runs one double-spend style attempt per economic
// subsystem. Each check issues its request twice; the duplicate acceptance is
// the signal.
func (h *Harness) probeEconomyExploits(ctx context.Context) error {
	for _, c := range economyChecks {
		first, err := h.fetchJSON(ctx, c.method, c.path, c.body)
		if err != nil {
			return err
		}
		if first.Status < 200 || first.Status >= 300 {
			// Subsystem refused even the setup request; nothing to exploit.
			continue
		}
		second, err := h.fetchJSON(ctx, c.method, c.path, c.body)
		if err != nil {
			return err
		}
		if second.Status >= 200 && second.Status < 300 {
			h.emit(ctx, "ECONOMY", c.title, schemas.ExploitFinding{
				Description:  fmt.Sprintf("The %s subsystem accepted a duplicate of an already-settled request.", c.subsystem),
				Reproduction: []string{fmt.Sprintf("%s %s with body %s.", c.method, c.path, c.body), "Repeat the identical request immediately."},
				Observed:     c.observed,
				Expected:     c.expected,
				Impact:       "Resources are created or preserved where the game rules say they must be consumed.",
				Remediation:  "Settle economic transactions atomically against server-side state.",
			})
		}
	}
	return nil
}

// fuzzRounds bounds the malformed-payload battery.
const fuzzRounds = 8

// probeMalformedFuzzing posts deterministically generated garbage at the
// action endpoint. Any 5xx means malformed input reaches unguarded code.
func (h *Harness) probeMalformedFuzzing(ctx context.Context) error {
	// Seeded by agent name so a rerun replays the same payloads.
	consumer := fuzz.NewConsumer([]byte(h.agent + "/malformed-payloads"))
	for i := 0; i < fuzzRounds; i++ {
		payload, err := consumer.GetString()
		if err != nil {
			break
		}
		res, ferr := h.fetchJSON(ctx, "POST", "/api/action", payload)
		if ferr != nil {
			return ferr
		}
		if res.Status >= 500 {
			h.emit(ctx, "FUZZING", "Server error on malformed payload", schemas.ExploitFinding{
				Description:  "A malformed request body produced a 5xx instead of a 4xx rejection.",
				Reproduction: []string{fmt.Sprintf("POST /api/action with the raw body %q.", payload)},
				Observed:     fmt.Sprintf("Server responded %d.", res.Status),
				Expected:     "Malformed payloads are rejected with 400 and never reach handler logic.",
				Impact:       "Unvalidated input reaches deep code paths; crashes or undefined behavior are likely.",
				Remediation:  "Validate and reject malformed bodies at the API boundary.",
			})
			return nil
		}
	}
	return nil
}

// probeValidationBypass strips client-side input constraints and submits an
// oversized value directly, checking that the server enforces its own rules.
func (h *Harness) probeValidationBypass(ctx context.Context) error {
	strip := `(() => {
	for (const el of document.querySelectorAll("input, textarea")) {
		el.removeAttribute("maxlength");
		el.removeAttribute("pattern");
		el.removeAttribute("required");
	}
	return "stripped";
})()`
	if _, err := h.driver.Evaluate(ctx, strip); err != nil {
		return err
	}

	oversized := strings.Repeat("A", 5000)
	res, err := h.fetchJSON(ctx, "POST", "/api/profile", fmt.Sprintf(`{"display_name": %q}`, oversized))
	if err != nil {
		return err
	}
	if res.Status >= 200 && res.Status < 300 {
		h.emit(ctx, "VALIDATION_BYPASS", "Server accepts input rejected by client validation", schemas.ExploitFinding{
			Description:  "A 5000-character display name, blocked only by client-side maxlength, was accepted by the API.",
			Reproduction: []string{"Remove the maxlength attribute from the profile form.", "Submit a 5000-character display name."},
			Observed:     fmt.Sprintf("Server responded %d and stored the oversized value.", res.Status),
			Expected:     "Server-side validation mirrors every client-side constraint.",
			Impact:       "Client-only validation invites stored abuse (layout breakage, storage bloat, downstream parser issues).",
			Remediation:  "Duplicate all input constraints in the API layer.",
		})
	}
	return nil
}
