package assembler

import (
	"fmt"
	"sort"
	"strings"

	"ptchost.local/ptchost/internal/protocol"
	"ptchost.local/ptchost/internal/ptctypes"
	"ptchost.local/ptchost/internal/schema"
)

// emitStubs generates the re-exported async stub for every tool: a
// typed function that forwards to the runtime RPC callTool(name, input).
func emitStubs(tools []ptctypes.ToolInfo) string {
	sorted := make([]ptctypes.ToolInfo, len(tools))
	copy(sorted, tools)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var b strings.Builder
	fmt.Fprintf(&b, "import { callTool } from \"./%s\";\n\n", protocol.RuntimeFileName)
	for _, tool := range sorted {
		inputType := schema.Project(tool.InputSchema)
		outputType := "any"
		if tool.OutputSchema != nil {
			outputType = schema.Project(*tool.OutputSchema)
		}
		fmt.Fprintf(&b, "export async function %s(input: %s): Promise<%s> {\n", tool.Name, inputType, outputType)
		fmt.Fprintf(&b, "  return await callTool(%q, input);\n", tool.Name)
		b.WriteString("}\n\n")
	}
	return b.String()
}

// emitRuntime generates the in-sandbox RPC runtime described in the
// Tool-Call Protocol: a strictly serial callTool implementation backed
// by the request/response file pair, a per-execution result cache, and exponential
// backoff polling.
func emitRuntime() string {
	return fmt.Sprintf(`// Generated by the PTC code assembler. Do not edit.
const REQUESTS_DIR = %q;
const RESPONSES_DIR = %q;
const CACHE_PATH = %q;

const POLL_INITIAL_MS = 10;
const POLL_MULTIPLIER = 1.5;
const POLL_CAP_MS = 1000;
const POLL_BUDGET_MS = 60000;

function canonicalize(value) {
  if (Array.isArray(value)) {
    return value.map(canonicalize);
  }
  if (value !== null && typeof value === "object") {
    const out = {};
    for (const key of Object.keys(value).sort()) {
      out[key] = canonicalize(value[key]);
    }
    return out;
  }
  return value;
}

async function sha256Hex(input) {
  const bytes = new TextEncoder().encode(input);
  const digest = await crypto.subtle.digest("SHA-256", bytes);
  return Array.from(new Uint8Array(digest))
    .map((b) => b.toString(16).padStart(2, "0"))
    .join("");
}

async function readCache() {
  try {
    const text = await Deno.readTextFile(CACHE_PATH);
    const parsed = JSON.parse(text);
    if (parsed && typeof parsed === "object") return parsed;
  } catch (_err) {
    // missing or malformed cache is treated as empty
  }
  return {};
}

async function writeCache(cache) {
  try {
    await Deno.writeTextFile(CACHE_PATH, JSON.stringify(cache));
  } catch (_err) {
    // best-effort; cache writes never fail the call
  }
}

function newRequestId() {
  return Date.now().toString(36) + "_" + Math.random().toString(36).slice(2, 10);
}

async function removeQuiet(path) {
  try {
    await Deno.remove(path);
  } catch (_err) {
    // best-effort
  }
}

export async function callTool(tool, args) {
  const canonicalArgs = canonicalize(args);
  const cacheKey = await sha256Hex(tool + ":" + JSON.stringify(canonicalArgs));

  const cache = await readCache();
  if (Object.prototype.hasOwnProperty.call(cache, cacheKey)) {
    return cache[cacheKey];
  }

  const requestId = newRequestId();
  const requestPath = REQUESTS_DIR + "/" + requestId + ".json";
  const responsePath = RESPONSES_DIR + "/" + requestId + ".json";

  await Deno.writeTextFile(
    requestPath,
    JSON.stringify({ requestId, tool, args, cacheKey }),
  );
  console.log(%q + requestId);

  let delay = POLL_INITIAL_MS;
  let waited = 0;
  while (waited < POLL_BUDGET_MS) {
    await new Promise((resolve) => setTimeout(resolve, delay));
    waited += delay;
    delay = Math.min(delay * POLL_MULTIPLIER, POLL_CAP_MS);

    let text;
    try {
      text = await Deno.readTextFile(responsePath);
    } catch (_err) {
      continue;
    }

    let parsed;
    try {
      parsed = JSON.parse(text);
    } catch (_err) {
      continue;
    }

    await removeQuiet(requestPath);
    await removeQuiet(responsePath);

    if (parsed.success === false) {
      throw new Error("Tool call error: " + parsed.error);
    }

    const cacheAfter = await readCache();
    cacheAfter[cacheKey] = parsed.result;
    await writeCache(cacheAfter);
    return parsed.result;
  }

  await removeQuiet(requestPath);
  throw new Error("Tool request timeout");
}
`, protocol.RequestsDir, protocol.ResponsesDir, protocol.CachePath(Ext), protocol.SentinelToolRequest)
}

// emitMain generates the entry program: it imports every stub, wraps the
// sanitized agent source in an async function, and prints the terminal
// sentinel matching how the source concluded.
func emitMain(sanitizedSource string, tools []ptctypes.ToolInfo) string {
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)

	var b strings.Builder
	if len(names) > 0 {
		fmt.Fprintf(&b, "import { %s } from \"./%s\";\n\n", strings.Join(names, ", "), protocol.StubsFileName)
	}

	fmt.Fprintf(&b, "async function __ptc_entry() {\n%s\n}\n\n", indent(sanitizedSource))

	b.WriteString("try {\n")
	b.WriteString("  const __ptc_result = await __ptc_entry();\n")
	b.WriteString("  JSON.stringify(__ptc_result); // throws on circular references\n")
	fmt.Fprintf(&b, "  console.log(%q + JSON.stringify(__ptc_result === undefined ? null : __ptc_result));\n", protocol.SentinelFinal)
	b.WriteString("} catch (err) {\n")
	b.WriteString("  const message = __ptc_classify(err);\n")
	fmt.Fprintf(&b, "  console.log(%q + JSON.stringify({ message }));\n", protocol.SentinelError)
	b.WriteString("  Deno.exit(1);\n")
	b.WriteString("}\n\n")

	b.WriteString(`function __ptc_classify(err) {
  const raw = err && err.message ? String(err.message) : String(err);
  if (raw.startsWith("Tool call error:")) return raw;
  if (raw === "Tool request timeout") return raw;
  if (raw.includes("circular") || raw.includes("Converting circular structure")) {
    return "Runtime error: result contains a circular reference and cannot be serialized";
  }
  return "Runtime error: " + raw;
}
`)

	return b.String()
}

func indent(source string) string {
	lines := strings.Split(source, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines[i] = "  " + line
	}
	return strings.Join(lines, "\n")
}
