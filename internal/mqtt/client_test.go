package mqtt

import (
	"testing"

	"github.com/berfenger/tesla2mqtt/internal/config"
	"github.com/berfenger/tesla2mqtt/internal/util"

	"github.com/stretchr/testify/assert"
)

func testConfig() *config.Config {
	cfg := util.LoadTestConfig()
	return &cfg
}

func TestSwitchCommandParse(t *testing.T) {

	assert := assert.New(t)

	baseTopic := "loremTopic"
	topic := "loremTopic/switch/my_device/command"
	r := switchCommandExtractor(baseTopic)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(matches[0][1], "my_device", "device extract")
}

func TestSwitchCommandParseFail(t *testing.T) {

	assert := assert.New(t)

	baseTopic := "loremTopic"
	topic := "loremTopic/switch/my_device/state"
	r := switchCommandExtractor(baseTopic)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(len(matches), 0, "no matches")
}

func TestInputNumberCommandParse(t *testing.T) {

	assert := assert.New(t)

	baseTopic := "loremTopic"
	topic := "loremTopic/number/number_name/set"
	r := inputNumberCommandExtractor(baseTopic)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(matches[0][1], "number_name", "number_id extract")
}

func TestInputNumberCommandParseFail(t *testing.T) {

	assert := assert.New(t)

	baseTopic := "loremTopic"
	topic := "loremTopic/switch/number_name/command"
	r := inputNumberCommandExtractor(baseTopic)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(len(matches), 0, "no matches")
}

func TestTopicMatches(t *testing.T) {

	assert := assert.New(t)

	assert.True(TopicMatches("dsmr/json", "dsmr/json"))
	assert.False(TopicMatches("dsmr/json", "dsmr/json/extra"))
	assert.True(TopicMatches("dsmr/+/current", "dsmr/l1/current"))
	assert.False(TopicMatches("dsmr/+/current", "dsmr/l1/voltage"))
	assert.True(TopicMatches("meters/#", "meters/ev/state"))
	assert.False(TopicMatches("meters/ev", "meters"))
}

func TestCommandTopics(t *testing.T) {

	assert := assert.New(t)

	client := CreateMQTTClient(testConfig(), OptsFromConfig(testConfig()), nil, nil)

	assert.Equal("tesla2mqtt/switch/pv_surplus_mode/command", client.SwitchCommandTopic("pv_surplus_mode"))
	assert.Equal("tesla2mqtt/number/max_charge_amps/set", client.InputNumberCommandTopic("max_charge_amps"))
	assert.Equal("tesla2mqtt/bridge/state", client.BridgeStateTopic())
	assert.True(TopicMatches(client.commandTopic(), client.SwitchCommandTopic("pv_surplus_mode")))
}
