package services

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	colorFailure  = 15158332 // Red
	colorRecovery = 3066993  // Green
)

// DiscordNotifier posts rollup failure and recovery messages to a channel.
// Without a token or channel it is a silent no-op.
type DiscordNotifier struct {
	session   *discordgo.Session
	channelID string
	botID     string
	enabled   bool

	status func() string
}

func NewDiscordNotifier(token string, channelID string) (*DiscordNotifier, error) {
	if token == "" {
		log.Println("Discord bot token not provided, Discord notifications disabled")
		return &DiscordNotifier{enabled: false}, nil
	}

	if channelID == "" {
		log.Println("Discord channel ID not provided, Discord notifications disabled")
		return &DiscordNotifier{enabled: false}, nil
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	user, err := session.User("@me")
	if err != nil {
		return nil, fmt.Errorf("failed to get bot user: %w", err)
	}

	d := &DiscordNotifier{
		session:   session,
		channelID: channelID,
		botID:     user.ID,
		enabled:   true,
	}

	session.AddHandler(d.messageHandler)

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("failed to open Discord connection: %w", err)
	}

	log.Printf("Discord bot connected successfully! Bot ID: %s, Channel: %s", user.ID, channelID)
	return d, nil
}

func (d *DiscordNotifier) Enabled() bool {
	return d.enabled
}

// SetStatusProvider sets the text returned by the "!rollup status" command
func (d *DiscordNotifier) SetStatusProvider(fn func() string) {
	d.status = fn
}

func (d *DiscordNotifier) Close() {
	if d.enabled && d.session != nil {
		log.Println("Closing Discord bot connection...")
		d.session.Close()
	}
}

func (d *DiscordNotifier) messageHandler(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == d.botID || m.ChannelID != d.channelID {
		return
	}

	if reply := d.commandReply(m.Content); reply != "" {
		s.ChannelMessageSend(m.ChannelID, reply)
	}
}

func (d *DiscordNotifier) commandReply(content string) string {
	if !strings.HasPrefix(content, "!rollup") {
		return ""
	}
	args := strings.Fields(content)
	if len(args) < 2 {
		return ""
	}

	switch args[1] {
	case "ping":
		return "Pong! Rollup service is online."
	case "help":
		return "**Rollup Bot Commands:**\n" +
			"`!rollup ping` - Check if bot is online\n" +
			"`!rollup status` - Last rollup result per tier\n" +
			"`!rollup help` - Show this help message"
	case "status":
		if d.status == nil {
			return "Status is not available yet."
		}
		return d.status()
	default:
		return fmt.Sprintf("Unknown command: `%s`. Try `!rollup help`", args[1])
	}
}

func (d *DiscordNotifier) NotifyRollupFailure(tier string, consecutive int, cause error) error {
	if !d.enabled {
		return nil
	}

	if _, err := d.session.ChannelMessageSendEmbed(d.channelID, failureEmbed(tier, consecutive, cause, time.Now())); err != nil {
		return fmt.Errorf("failed to send Discord message: %w", err)
	}
	log.Printf("Rollup failure for tier %s sent to Discord", tier)
	return nil
}

func (d *DiscordNotifier) NotifyRollupRecovered(tier string) error {
	if !d.enabled {
		return nil
	}

	if _, err := d.session.ChannelMessageSendEmbed(d.channelID, recoveryEmbed(tier, time.Now())); err != nil {
		return fmt.Errorf("failed to send Discord message: %w", err)
	}
	log.Printf("Rollup recovery for tier %s sent to Discord", tier)
	return nil
}

func failureEmbed(tier string, consecutive int, cause error, at time.Time) *discordgo.MessageEmbed {
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}
	// embed field values are capped at 1024 characters
	if len(reason) > 1000 {
		reason = reason[:1000] + "..."
	}

	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("🚨 %s rollup failing", tier),
		Description: fmt.Sprintf("The %s snapshot job failed %d times in a row. History for this tier has gaps.", tier, consecutive),
		Color:       colorFailure,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Tier", Value: tier, Inline: true},
			{Name: "Consecutive Failures", Value: fmt.Sprintf("%d", consecutive), Inline: true},
			{Name: "Last Error", Value: reason, Inline: false},
		},
		Timestamp: at.Format(time.RFC3339),
	}
}

func recoveryEmbed(tier string, at time.Time) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("✅ %s rollup recovered", tier),
		Description: fmt.Sprintf("The %s snapshot job succeeded again.", tier),
		Color:       colorRecovery,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Tier", Value: tier, Inline: true},
			{Name: "Recovered At", Value: at.UTC().Format("2006-01-02 15:04:05 MST"), Inline: true},
		},
		Timestamp: at.Format(time.RFC3339),
	}
}
