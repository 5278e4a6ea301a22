package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/chatmesh/core"
	"github.com/hupe1980/chatmesh/model"
	"github.com/hupe1980/chatmesh/token"
)

var errQuit = errors.New("quit")

const commandHelp = `Commands:
  /help                 show this help
  /groups               list groups and their members
  /agents               list agents
  /services             list model services
  /topics               list topics of all groups
  /new <group> [name]   open a topic in a group (id or name)
  /select <topic>       switch to a topic (id, id prefix or name)
  /history              print the current topic
  /clear                delete all messages of the current topic
  /stats                message count and estimated tokens of the current topic
  /cancel               abort the running orchestration
  /quit                 exit`

// parseCommand splits "/name rest" into its parts. Plain input is returned
// trimmed in arg with isCommand false.
func parseCommand(line string) (cmd, arg string, isCommand bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return "", line, false
	}

	cmd, arg, _ = strings.Cut(line[1:], " ")

	return strings.ToLower(cmd), strings.TrimSpace(arg), true
}

func (p *repl) dispatch(cmd, arg string) error {
	store := p.mesh.Store()

	switch cmd {
	case "help", "?":
		p.r.plain(commandHelp)
	case "quit", "exit", "q":
		return errQuit
	case "cancel":
		if !p.mesh.CancelActiveOrchestration() {
			p.r.notice("nothing to cancel")
		}
	case "groups":
		for _, g := range store.Groups() {
			names := make([]string, 0, len(g.MemberAgentIDs))
			for _, id := range g.MemberAgentIDs {
				if a, err := store.Agent(id); err == nil {
					names = append(names, a.DisplayName)
				}
			}
			mode := "group"
			if g.IsPrivate() {
				mode = "private"
			}
			p.r.item(g.ID, fmt.Sprintf("%s [%s] %s", g.Name, mode, strings.Join(names, ", ")))
		}
	case "agents":
		for _, a := range store.Agents() {
			p.r.item(a.ID, fmt.Sprintf("%s (service %s) %s", a.DisplayName, a.ModelServiceID, a.Description))
		}
	case "services":
		settings := store.Settings()
		for _, s := range store.ModelServices() {
			cfg := s.Config(settings)
			if cfg.Provider == "" {
				cfg.Provider = model.ProviderOpenAI
			}
			creds := "configured"
			if cfg.APIKey == "" {
				creds = "missing credentials"
			}
			p.r.item(s.ID, fmt.Sprintf("%s %s %s (%s)", s.Name, cfg.Provider, cfg.ModelID, creds))
		}
	case "topics":
		current := store.CurrentTopicID()
		for _, g := range store.Groups() {
			for _, t := range store.Topics(g.ID) {
				label := fmt.Sprintf("%s / %s", g.Name, topicLabel(t))
				if t.ID == current {
					label += " *"
				}
				p.r.item(t.ID, label)
			}
		}
	case "new":
		return p.newTopic(arg)
	case "select":
		t, err := p.findTopic(arg)
		if err != nil {
			return err
		}
		if err := p.mesh.SelectTopic(t.ID); err != nil {
			return err
		}
		p.r.notice("switched to " + topicLabel(t))
	case "history":
		msgs, err := p.currentMessages()
		if err != nil {
			return err
		}
		for _, m := range msgs {
			p.r.message(m)
		}
	case "clear":
		id := store.CurrentTopicID()
		if id == "" {
			return errors.New("no topic selected")
		}
		if err := p.mesh.ClearTopic(id); err != nil {
			return err
		}
		p.r.notice("topic cleared")
	case "stats":
		msgs, err := p.currentMessages()
		if err != nil {
			return err
		}
		tokens := 0
		for _, m := range msgs {
			tokens += token.Estimate(m.Text)
		}
		p.r.notice(fmt.Sprintf("%d messages, ~%d tokens, state %s", len(msgs), tokens, p.mesh.Engine().State()))
	default:
		return fmt.Errorf("unknown command /%s (try /help)", cmd)
	}

	return nil
}

func (p *repl) newTopic(arg string) error {
	ref, name, _ := strings.Cut(arg, " ")
	if ref == "" {
		return errors.New("usage: /new <group> [name]")
	}

	var group *core.Group
	for _, g := range p.mesh.Store().Groups() {
		if g.ID == ref || strings.EqualFold(g.Name, ref) {
			group = &g
			break
		}
	}
	if group == nil {
		return &core.NotFoundError{Kind: "group", ID: ref}
	}

	t, err := p.mesh.CreateTopic(group.ID, strings.TrimSpace(name))
	if err != nil {
		return err
	}
	p.r.notice("opened " + topicLabel(t) + " in " + group.Name)

	return nil
}

// findTopic resolves a topic by exact id, unique id prefix or name.
func (p *repl) findTopic(ref string) (core.Topic, error) {
	if ref == "" {
		return core.Topic{}, errors.New("usage: /select <topic>")
	}

	store := p.mesh.Store()
	if t, err := store.Topic(ref); err == nil {
		return t, nil
	}

	var matches []core.Topic
	for _, g := range store.Groups() {
		for _, t := range store.Topics(g.ID) {
			if strings.HasPrefix(t.ID, ref) || strings.EqualFold(t.Name, ref) {
				matches = append(matches, t)
			}
		}
	}

	switch len(matches) {
	case 0:
		return core.Topic{}, &core.NotFoundError{Kind: "topic", ID: ref}
	case 1:
		return matches[0], nil
	default:
		return core.Topic{}, fmt.Errorf("%q matches %d topics", ref, len(matches))
	}
}

func (p *repl) currentMessages() ([]core.Message, error) {
	id := p.mesh.Store().CurrentTopicID()
	if id == "" {
		return nil, errors.New("no topic selected")
	}

	return p.mesh.Messages(id)
}

func topicLabel(t core.Topic) string {
	if t.Name == "" {
		return "(untitled)"
	}

	return t.Name
}
