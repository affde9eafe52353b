package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/dusk-indust/a2abridge/internal/a2a"
	"github.com/dusk-indust/a2abridge/internal/mcptools"
)

// Profile bundles what one kind of agent needs: its card, the model it runs
// on, its instruction and the MCP server providing its tools.
type Profile struct {
	Name        ProfileName
	AgentName   string
	Description string

	// Model is a "provider/model" reference or a bare model name.
	Model       string
	Instruction string

	// SecretEnv names the environment variable holding the MCP server's API
	// key.
	SecretEnv string

	DefaultHost string
	DefaultPort int

	card      func(url string) a2a.AgentCard
	mcpServer func(secret string) mcptools.ServerSpec
}

// Card returns the profile's agent card served at url.
func (p Profile) Card(url string) a2a.AgentCard {
	return p.card(url)
}

// MCPServer returns the launch spec of the profile's tool server,
// authenticated with secret.
func (p Profile) MCPServer(secret string) mcptools.ServerSpec {
	return p.mcpServer(secret)
}

// Registry maps profile names to profiles.
type Registry struct {
	mu       sync.RWMutex
	profiles map[ProfileName]Profile
}

// NewRegistry creates a Registry pre-registered with the built-in profiles.
func NewRegistry() *Registry {
	r := &Registry{profiles: make(map[ProfileName]Profile)}
	r.Register(elevenLabsProfile())
	r.Register(notionProfile())
	return r
}

// Register adds or replaces a profile.
func (r *Registry) Register(p Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.Name] = p
}

// Lookup returns the profile registered under name.
func (r *Registry) Lookup(name ProfileName) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("no profile registered as %q", name)
	}
	return p, nil
}

// Names returns the registered profile names in sorted order.
func (r *Registry) Names() []ProfileName {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]ProfileName, 0, len(r.profiles))
	for n := range r.profiles {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// --- Built-in profiles ---

const elevenLabsPrompt = `You are a Text-to-Speech agent. Convert user text to speech audio files.

Rules:
1. No need to specify an output directory, the tool will use the default.
2. No need to specify voice_name or voice_id, the tool will use the default.
3. When the tool returns a file path, format your response like this example:
   'I've converted your text to speech. The audio file is saved at ` + "`/path/to/file.mp3`" + `'
4. Make sure to put ONLY the file path inside backticks, not any additional text.
5. Never modify or abbreviate the path.

This exact format is critical for proper processing.`

func elevenLabsProfile() Profile {
	return Profile{
		Name:        ProfileElevenLabs,
		AgentName:   "elevenlabs_agent_mcp",
		Description: "Specialized agent for converting text to speech using ElevenLabs via MCP tools.",
		Model:       "anthropic/claude-3-5-sonnet-20241022",
		Instruction: elevenLabsPrompt,
		SecretEnv:   "ELEVENLABS_API_KEY",
		DefaultHost: "localhost",
		DefaultPort: 8003,
		card: func(url string) a2a.AgentCard {
			return a2a.AgentCard{
				Name:               "ElevenLabs TTS Agent",
				Description:        "Provides text-to-speech services using ElevenLabs.",
				URL:                url,
				Version:            "1.0.0",
				DefaultInputModes:  []string{"text"},
				DefaultOutputModes: []string{"text", "audio"},
				Capabilities:       a2a.AgentCapabilities{Streaming: false, PushNotifications: false},
				Skills: []a2a.AgentSkill{{
					ID:          "text_to_speech",
					Name:        "Convert text to speech",
					Description: "Takes input text and returns an audio file of the spoken text using ElevenLabs.",
					Tags:        []string{"tts", "audio", "speech", "elevenlabs"},
					Examples: []string{
						"What is the weather like today?",
						"Please read the following text out loud: The quick brown fox jumped over the lazy dog.",
					},
				}},
			}
		},
		mcpServer: func(secret string) mcptools.ServerSpec {
			return mcptools.ServerSpec{
				Name:    "elevenlabs",
				Command: "uvx",
				Args:    []string{"elevenlabs-mcp"},
				Env:     map[string]string{"ELEVENLABS_API_KEY": secret},
			}
		},
	}
}

const notionPrompt = `You are a Notion Information Retrieval agent. You help users search for and retrieve information from their Notion workspace.

Your goal is to efficiently find and present the most relevant information from the user's Notion workspace, acting as an autonomous assistant.

## Rules

1. Use the available Notion tools to search for pages and blocks based on user queries. For these, provide clear, formatted responses with titles, summaries, and links.
2. When a user asks you to query or get information from a database (e.g., "count entries in 'Sermon Notes'"), you MUST follow this specific two-step process:
   a. **Find the Database by Name**: First, use the search tool to locate the database by its name. The tool will return information that includes a URL.
   b. **Extract and Use the ID**: The id you need for the database query tool is contained within the URL returned in the previous step. You must parse this URL, extract the ID, and then use it to perform the database query.
3. **CRITICAL - Do Not Ask for IDs unnecessarily**: You are explicitly forbidden from asking the user for a database or page ID if you have already found the item via search. Your job is to extract the ID from the URL yourself.
4. If a search yields no results, clearly state that and suggest alternative search terms.
5. When presenting database query results, format them in a structured way that shows the key properties.
6. Always provide the source (page title and URL) when presenting retrieved information.`

// notionVersion is the Notion API version sent with every MCP request.
const notionVersion = "2022-06-28"

func notionProfile() Profile {
	return Profile{
		Name:        ProfileNotion,
		AgentName:   "notion_agent_mcp",
		Description: "Specialized agent for retrieving information from Notion workspace via MCP tools.",
		Model:       "gemini/gemini-2.0-flash",
		Instruction: notionPrompt,
		SecretEnv:   "NOTION_API_KEY",
		DefaultHost: "localhost",
		DefaultPort: 8002,
		card: func(url string) a2a.AgentCard {
			return a2a.AgentCard{
				Name:               "Notion Search Agent",
				Description:        "Searches and retrieves information from a Notion workspace.",
				URL:                url,
				Version:            "1.0.0",
				DefaultInputModes:  []string{"text"},
				DefaultOutputModes: []string{"text"},
				Capabilities:       a2a.AgentCapabilities{Streaming: true},
				Skills: []a2a.AgentSkill{{
					ID:          "search_notion",
					Name:        "Search Notion",
					Description: "Finds pages, blocks and database entries in the connected Notion workspace.",
					Tags:        []string{"notion", "search", "knowledge"},
					Examples: []string{
						"Search for recent pages",
						"How many entries are in the 'Sermon Notes' database?",
					},
				}},
			}
		},
		mcpServer: func(secret string) mcptools.ServerSpec {
			headers, _ := json.Marshal(map[string]string{
				"Authorization":  "Bearer " + secret,
				"Notion-Version": notionVersion,
			})
			return mcptools.ServerSpec{
				Name:    "notion",
				Command: "npx",
				Args:    []string{"-y", "@notionhq/notion-mcp-server"},
				Env:     map[string]string{"OPENAPI_MCP_HEADERS": string(headers)},
			}
		},
	}
}
